package model

// Role is a named attribute bundle stored in the remote directory.
type Role struct {
	// Name is the directory key, e.g. "prod-web-cluster".
	Name string `json:"name"`

	// Description is free text.
	Description string `json:"description,omitempty"`

	// DefaultAttributes apply with default precedence.
	DefaultAttributes map[string]interface{} `json:"default_attributes,omitempty"`

	// OverrideAttributes apply with override precedence.
	OverrideAttributes map[string]interface{} `json:"override_attributes,omitempty"`
}

// Clone returns a deep copy. A nil role clones to nil.
func (r *Role) Clone() *Role {
	if r == nil {
		return nil
	}
	return &Role{
		Name:               r.Name,
		Description:        r.Description,
		DefaultAttributes:  CopyAttributes(r.DefaultAttributes),
		OverrideAttributes: CopyAttributes(r.OverrideAttributes),
	}
}

// Merge overlays src onto r. A nil src is a no-op.
func (r *Role) Merge(src *Role) {
	if src == nil {
		return
	}
	if src.Name != "" {
		r.Name = src.Name
	}
	if src.Description != "" {
		r.Description = src.Description
	}
	r.DefaultAttributes = MergeAttributes(r.DefaultAttributes, src.DefaultAttributes)
	r.OverrideAttributes = MergeAttributes(r.OverrideAttributes, src.OverrideAttributes)
}

func mergeRole(dst, src *Role) *Role {
	if src == nil {
		return dst
	}
	if dst == nil {
		return src.Clone()
	}
	dst.Merge(src)
	return dst
}
