package transport

import (
	"fmt"
	"net/http"
)

// Schema describes the wire layout of one canvas server version.
type Schema struct {
	Name           string
	SizePath       string
	GetPixelPath   string
	SetPixelPath   string
	SetPixelMethod string
	PixelsPath     string
	AuthPath       string
	ColorField     string
}

// Known server versions.
var (
	SchemaV1 = Schema{
		Name:           "v1",
		SizePath:       "/get_size",
		GetPixelPath:   "/get_pixel",
		SetPixelPath:   "/set_pixel",
		SetPixelMethod: http.MethodPost,
		PixelsPath:     "/get_pixels",
		AuthPath:       "/authenticate",
		ColorField:     "rgb",
	}
	SchemaV2 = Schema{
		Name:           "v2",
		SizePath:       "/size",
		GetPixelPath:   "/canvas/pixel",
		SetPixelPath:   "/canvas/pixel",
		SetPixelMethod: http.MethodPut,
		PixelsPath:     "/canvas/pixels",
		AuthPath:       "/authenticate",
		ColorField:     "rgb",
	}
)

// LookupSchema returns the schema registered under name.
func LookupSchema(name string) (Schema, error) {
	switch name {
	case "", SchemaV1.Name:
		return SchemaV1, nil
	case SchemaV2.Name:
		return SchemaV2, nil
	}
	return Schema{}, fmt.Errorf("transport: unknown api version %q (want v1 or v2)", name)
}

// Override replaces every non-empty field of o in s.
func (s Schema) Override(o Schema) Schema {
	if o.SizePath != "" {
		s.SizePath = o.SizePath
	}
	if o.GetPixelPath != "" {
		s.GetPixelPath = o.GetPixelPath
	}
	if o.SetPixelPath != "" {
		s.SetPixelPath = o.SetPixelPath
	}
	if o.SetPixelMethod != "" {
		s.SetPixelMethod = o.SetPixelMethod
	}
	if o.PixelsPath != "" {
		s.PixelsPath = o.PixelsPath
	}
	if o.AuthPath != "" {
		s.AuthPath = o.AuthPath
	}
	if o.ColorField != "" {
		s.ColorField = o.ColorField
	}
	return s
}
