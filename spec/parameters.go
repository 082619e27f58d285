package spec

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Parameters is a flat string map persisted as JSON. It carries gateway metadata
// and the raw gateway response kept for audit.
type Parameters map[string]string

func (p *Parameters) Scan(value interface{}) error {
	var bytes []byte
	switch v := value.(type) {
	case nil:
		*p = make(Parameters)
		return nil
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("Failed to unmarshal json value: %v", value)
	}
	if len(bytes) == 0 {
		*p = make(Parameters)
		return nil
	}
	return json.Unmarshal(bytes, p)
}

func (p Parameters) Value() (driver.Value, error) {
	if p == nil {
		return "{}", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (Parameters) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	switch db.Dialector.Name() {
	case "mysql", "sqlite":
		return "JSON"
	case "postgres":
		return "JSONB"
	}
	return ""
}

func (p Parameters) Clone() Parameters {
	clone := make(Parameters, len(p))
	for k, v := range p {
		clone[k] = v
	}
	return clone
}

// Merge returns a copy of p with every key of other set on it
func (p Parameters) Merge(other Parameters) Parameters {
	merged := p.Clone()
	for k, v := range other {
		merged[k] = v
	}
	return merged
}
