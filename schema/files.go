package schema

// FileField marks a field holding attachment storage ids.
type FileField struct {
	Name     string
	Multiple bool
}

// FileFields returns the attachment fields of s in declaration order.
func (s Schema) FileFields() []FileField {
	var out []FileField
	for _, f := range s {
		switch f.Kind {
		case KindFile:
			out = append(out, FileField{Name: f.Name})
		case KindFiles:
			out = append(out, FileField{Name: f.Name, Multiple: true})
		}
	}
	return out
}
