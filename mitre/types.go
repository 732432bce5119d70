// Package mitre provides the ATT&CK reference taxonomy consumed by the
// technique tracking layer: tactics, techniques, and sub-techniques.
package mitre

import "fmt"

// Tactic represents a MITRE ATT&CK tactic (e.g. TA0001 Initial Access)
type Tactic struct {
	ID        string `json:"id" example:"TA0001"`
	Name      string `json:"name" example:"Initial Access"`
	ShortName string `json:"short_name,omitempty" example:"initial-access"`
}

// Technique represents a MITRE ATT&CK technique (e.g. T1566 Phishing)
type Technique struct {
	ID       string `json:"id" example:"T1566"`
	Name     string `json:"name" example:"Phishing"`
	TacticID string `json:"tactic_id,omitempty" example:"TA0001"`
}

// SubTechnique represents a MITRE ATT&CK sub-technique. It belongs to
// exactly one technique.
type SubTechnique struct {
	ID          string `json:"id" example:"T1566.001"`
	Name        string `json:"name" example:"Spearphishing Attachment"`
	TechniqueID string `json:"technique_id" example:"T1566"`
}

// Bundle is the seed-file shape for taxonomy imports.
type Bundle struct {
	Tactics       []Tactic       `json:"tactics"`
	Techniques    []Technique    `json:"techniques"`
	SubTechniques []SubTechnique `json:"sub_techniques"`
}

// Validate checks internal consistency of the bundle: every technique must
// reference a known tactic (when set) and every sub-technique a known
// technique.
func (b *Bundle) Validate() error {
	tactics := make(map[string]bool, len(b.Tactics))
	for _, t := range b.Tactics {
		if t.ID == "" || t.Name == "" {
			return fmt.Errorf("tactic requires id and name")
		}
		if tactics[t.ID] {
			return fmt.Errorf("duplicate tactic id: %s", t.ID)
		}
		tactics[t.ID] = true
	}

	techniques := make(map[string]bool, len(b.Techniques))
	for _, t := range b.Techniques {
		if t.ID == "" || t.Name == "" {
			return fmt.Errorf("technique requires id and name")
		}
		if techniques[t.ID] {
			return fmt.Errorf("duplicate technique id: %s", t.ID)
		}
		if t.TacticID != "" && !tactics[t.TacticID] {
			return fmt.Errorf("technique %s references unknown tactic %s", t.ID, t.TacticID)
		}
		techniques[t.ID] = true
	}

	subs := make(map[string]bool, len(b.SubTechniques))
	for _, s := range b.SubTechniques {
		if s.ID == "" || s.Name == "" {
			return fmt.Errorf("sub-technique requires id and name")
		}
		if s.TechniqueID == "" {
			return fmt.Errorf("sub-technique %s requires a parent technique", s.ID)
		}
		if subs[s.ID] {
			return fmt.Errorf("duplicate sub-technique id: %s", s.ID)
		}
		if !techniques[s.TechniqueID] {
			return fmt.Errorf("sub-technique %s references unknown technique %s", s.ID, s.TechniqueID)
		}
		subs[s.ID] = true
	}

	return nil
}

// IsEmpty reports whether the bundle carries no taxonomy entries
func (b *Bundle) IsEmpty() bool {
	return len(b.Tactics) == 0 && len(b.Techniques) == 0 && len(b.SubTechniques) == 0
}
