package asn

// Entity is the registry's record for one autonomous system.
type Entity struct {
	ASN               int            `json:"asn"`
	Name              string         `json:"name"`
	DescriptionShort  string         `json:"description_short"`
	DescriptionFull   []string       `json:"description_full,omitempty"`
	CountryCode       string         `json:"country_code"`
	Website           string         `json:"website,omitempty"`
	EmailContacts     []string       `json:"email_contacts,omitempty"`
	AbuseContacts     []string       `json:"abuse_contacts,omitempty"`
	LookingGlass      string         `json:"looking_glass,omitempty"`
	TrafficEstimation string         `json:"traffic_estimation,omitempty"`
	RIRAllocation     *RIRAllocation `json:"rir_allocation,omitempty"`
	DateUpdated       string         `json:"date_updated,omitempty"`
}

// RIRAllocation describes which registry allocated the number.
type RIRAllocation struct {
	RIRName          string `json:"rir_name"`
	CountryCode      string `json:"country_code"`
	DateAllocated    string `json:"date_allocated"`
	AllocationStatus string `json:"allocation_status,omitempty"`
}

// Prefix is one announced network.
type Prefix struct {
	Prefix      string `json:"prefix"`
	IP          string `json:"ip"`
	CIDR        int    `json:"cidr"`
	Name        string `json:"name"`
	Description string `json:"description"`
	CountryCode string `json:"country_code"`
}

// Prefixes groups announced networks by family.
type Prefixes struct {
	IPv4 []Prefix `json:"ipv4_prefixes"`
	IPv6 []Prefix `json:"ipv6_prefixes"`
}

// Peer is a neighbouring autonomous system.
type Peer struct {
	ASN         int    `json:"asn"`
	Name        string `json:"name"`
	Description string `json:"description"`
	CountryCode string `json:"country_code"`
}

// Peers groups neighbours by address family.
type Peers struct {
	IPv4 []Peer `json:"ipv4_peers"`
	IPv6 []Peer `json:"ipv6_peers"`
}

// SearchResult is the registry search response.
type SearchResult struct {
	ASNs []Peer   `json:"asns"`
	IPv4 []Prefix `json:"ipv4_prefixes"`
	IPv6 []Prefix `json:"ipv6_prefixes"`
}
