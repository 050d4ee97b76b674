package types

// Extent is the scroll geometry of the rendered document, in CSS pixels.
type Extent struct {
	Offset   int `json:"offset"`   // window.pageYOffset
	Viewport int `json:"viewport"` // window.innerHeight
	Height   int `json:"height"`   // document.body.scrollHeight
}

// AtBottom reports whether the viewport reaches the end of the document
// within tolerance pixels.
func (e Extent) AtBottom(tolerance int) bool {
	return e.Offset+e.Viewport >= e.Height-tolerance
}
