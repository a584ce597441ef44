package whois

import (
	"bufio"
	"encoding/json"
	"strings"
	"time"
)

// UnavailableText is how a missing field is rendered to people.
const UnavailableText = "unavailable"

// Field is a parsed value or an explicit absence.
type Field struct {
	Value     string
	Available bool
}

// Parsed wraps a present value.
func Parsed(value string) Field { return Field{Value: value, Available: true} }

// Unavailable marks a label the reply did not carry.
func Unavailable() Field { return Field{} }

// Display renders the field for presentation.
func (f Field) Display() string {
	if !f.Available {
		return UnavailableText
	}
	return f.Value
}

// Time interprets a date-like field. Timezone suffixes were already removed during parsing.
func (f Field) Time() (time.Time, bool) {
	if !f.Available {
		return time.Time{}, false
	}
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02", "02/01/2006"} {
		if t, err := time.Parse(layout, f.Value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// MarshalJSON encodes an unavailable field as null.
func (f Field) MarshalJSON() ([]byte, error) {
	if !f.Available {
		return []byte("null"), nil
	}
	return json.Marshal(f.Value)
}

// UnmarshalJSON decodes null as unavailable.
func (f *Field) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = Unavailable()
		return nil
	}
	var value string
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	*f = Parsed(value)
	return nil
}

// Record is the tolerant view of one whois reply.
type Record struct {
	Domain      string   `json:"domain"`
	Registered  bool     `json:"registered"`
	Registrant  Field    `json:"registrant"`
	Registrar   Field    `json:"registrar"`
	Created     Field    `json:"created"`
	Expires     Field    `json:"expires"`
	Status      Field    `json:"status"`
	NameServers []string `json:"name_servers"`
}

type fieldKey int

const (
	keyRegistrant fieldKey = iota
	keyRegistrar
	keyCreated
	keyExpires
	keyStatus
	keyNameServer
)

// labels maps lowercased labels, English and Spanish, to fields.
var labels = map[string]fieldKey{
	"registrant":              keyRegistrant,
	"registrant name":         keyRegistrant,
	"registrant organization": keyRegistrant,
	"registrant organisation": keyRegistrant,
	"titular":                 keyRegistrant,
	"nombre del titular":      keyRegistrant,
	"registrar":               keyRegistrar,
	"registrar name":          keyRegistrar,
	"sponsoring registrar":    keyRegistrar,
	"agente registrador":      keyRegistrar,
	"creation date":           keyCreated,
	"created":                 keyCreated,
	"created on":              keyCreated,
	"registered on":           keyCreated,
	"fecha de creación":       keyCreated,
	"fecha de creacion":       keyCreated,
	"expiration date":         keyExpires,
	"registry expiry date":    keyExpires,
	"expires on":              keyExpires,
	"expiry date":             keyExpires,
	"fecha de expiración":     keyExpires,
	"fecha de expiracion":     keyExpires,
	"fecha de vencimiento":    keyExpires,
	"status":                  keyStatus,
	"domain status":           keyStatus,
	"estado":                  keyStatus,
	"name server":             keyNameServer,
	"nameserver":              keyNameServer,
	"name servers":            keyNameServer,
	"servidor de nombre":      keyNameServer,
	"servidores de nombre":    keyNameServer,
}

var notFoundMarkers = []string{
	"no entries found",
	"no se encontraron",
	"no match for",
	"status: free",
}

var tzSuffixes = []string{" (UTC)", " CLST", " CLT", " UTC", " GMT"}

// Parse scans raw for known labels. The first occurrence of a single-valued
// label wins; name servers accumulate in order without duplicates.
func Parse(domain, raw string) Record {
	rec := Record{Domain: domain, Registered: true}
	lower := strings.ToLower(raw)
	for _, marker := range notFoundMarkers {
		if strings.Contains(lower, marker) {
			rec.Registered = false
			break
		}
	}

	seen := map[string]bool{}
	scanner := bufio.NewScanner(strings.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 4096), maxReply)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "%") || strings.HasPrefix(line, "#") {
			continue
		}
		label, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key, known := labels[strings.ToLower(strings.TrimSpace(label))]
		value = strings.TrimSpace(value)
		if !known || value == "" {
			continue
		}
		switch key {
		case keyRegistrant:
			setOnce(&rec.Registrant, value)
		case keyRegistrar:
			setOnce(&rec.Registrar, value)
		case keyCreated:
			setOnce(&rec.Created, stripTimezone(value))
		case keyExpires:
			setOnce(&rec.Expires, stripTimezone(value))
		case keyStatus:
			setOnce(&rec.Status, value)
		case keyNameServer:
			ns := strings.ToLower(strings.TrimSuffix(strings.Fields(value)[0], "."))
			if !seen[ns] {
				seen[ns] = true
				rec.NameServers = append(rec.NameServers, ns)
			}
		}
	}
	return rec
}

func setOnce(f *Field, value string) {
	if f.Available {
		return
	}
	*f = Parsed(value)
}

func stripTimezone(value string) string {
	for _, suffix := range tzSuffixes {
		if len(value) > len(suffix) && strings.EqualFold(value[len(value)-len(suffix):], suffix) {
			return strings.TrimSpace(value[:len(value)-len(suffix)])
		}
	}
	if strings.HasSuffix(value, "Z") && strings.Contains(value, "T") {
		return strings.TrimSuffix(value, "Z")
	}
	return value
}
