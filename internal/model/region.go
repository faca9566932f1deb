package model

// RegionCode identifies one outbound provider instance.
type RegionCode string

const (
	RegionMali   RegionCode = "mali"
	RegionChine  RegionCode = "chine"
	RegionSystem RegionCode = "system"
)

// Country calling prefixes for the business regions.
const (
	PrefixMali  = "+223"
	PrefixChine = "+86"
)

// Region is the configuration value object for one provider instance,
// assembled once at startup and injected into the router and delivery
// client. Credentials are opaque to everything but the client.
type Region struct {
	Code          RegionCode `json:"code"`
	Name          string     `json:"name"`
	Endpoint      string     `json:"endpoint"`
	AccountID     string     `json:"account_id"`
	APIToken      string     `json:"-"`
	Active        bool       `json:"active"`
	DefaultPrefix string     `json:"default_prefix"`
}

// Configured reports whether credentials are present.
func (r Region) Configured() bool {
	return r.Endpoint != "" && r.AccountID != "" && r.APIToken != ""
}

// Usable reports whether the instance may be routed to.
func (r Region) Usable() bool {
	return r.Active && r.Configured()
}

// RegionSet is the fixed set of provider instances known to this deployment.
type RegionSet struct {
	regions map[RegionCode]Region
	deflt   RegionCode
}

func NewRegionSet(deflt RegionCode, regions ...Region) *RegionSet {
	m := make(map[RegionCode]Region, len(regions))
	for _, r := range regions {
		m[r.Code] = r
	}
	return &RegionSet{regions: m, deflt: deflt}
}

func (s *RegionSet) Get(code RegionCode) (Region, bool) {
	r, ok := s.regions[code]
	return r, ok
}

// Default returns the deployment's default region code.
func (s *RegionSet) Default() RegionCode {
	return s.deflt
}

// Usable reports whether the named region exists and may be routed to.
func (s *RegionSet) Usable(code RegionCode) bool {
	r, ok := s.regions[code]
	return ok && r.Usable()
}
