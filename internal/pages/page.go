package pages

import (
	"encoding/json"
)

// JSONObject preserves every top-level field of an entry, including ones Page does not model.
type JSONObject map[string]json.RawMessage

type File struct {
	UID         string `json:"uid,omitempty"`
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Filename    string `json:"filename,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

type Block struct {
	Title  string `json:"title,omitempty"`
	Copy   string `json:"copy,omitempty"`
	Image  *File  `json:"image,omitempty"`
	Layout string `json:"layout,omitempty"`
}

type BlockItem struct {
	Block Block `json:"block"`
}

type Page struct {
	UID         string      `json:"uid"`
	Locale      string      `json:"locale,omitempty"`
	Title       string      `json:"title"`
	URL         string      `json:"url"`
	Description string      `json:"description,omitempty"`
	RichText    string      `json:"rich_text,omitempty"`
	Image       *File       `json:"image,omitempty"`
	Blocks      []BlockItem `json:"blocks,omitempty"`

	Fields JSONObject `json:"-"`
}

type pageFields Page

func (p *Page) UnmarshalJSON(data []byte) error {
	var typed pageFields
	if err := json.Unmarshal(data, &typed); err != nil {
		return err
	}

	var fields JSONObject
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	*p = Page(typed)
	p.Fields = fields
	return nil
}

// MarshalJSON writes the entry as received from the backend when it is available.
func (p Page) MarshalJSON() ([]byte, error) {
	if len(p.Fields) > 0 {
		return json.Marshal(p.Fields)
	}
	return json.Marshal(pageFields(p))
}
