package domain

import "time"

// Attachment is a file linked to a record and kept in blob storage.
type Attachment struct {
	Key         string    `json:"key"`
	Name        string    `json:"name"`
	ContentType string    `json:"content_type,omitempty"`
	Size        int64     `json:"size"`
	URL         string    `json:"url,omitempty"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// AttachmentsOf decodes the attachments column. Rows loaded from JSON carry
// []any of maps; rows built in-process carry []Attachment.
func AttachmentsOf(r Record) []Attachment {
	switch t := r[FieldAttachments].(type) {
	case []Attachment:
		return append([]Attachment(nil), t...)
	case []any:
		out := make([]Attachment, 0, len(t))
		for _, item := range t {
			switch v := item.(type) {
			case Attachment:
				out = append(out, v)
			case map[string]any:
				out = append(out, attachmentFromMap(v))
			}
		}
		return out
	}
	return nil
}

func attachmentFromMap(m map[string]any) Attachment {
	rec := Record(m)
	a := Attachment{
		Key:         rec.Text("key"),
		Name:        rec.Text("name"),
		ContentType: rec.Text("content_type"),
		Size:        int64(rec.Float("size")),
		URL:         rec.Text("url"),
	}
	if raw := rec.Text("uploaded_at"); raw != "" {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			a.UploadedAt = ts
		}
	}
	return a
}
