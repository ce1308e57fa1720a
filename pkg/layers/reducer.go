package layers

// Presence is a layer's state on the current style: absent, or present with
// a visibility.
type Presence struct {
	Present bool `json:"present"`
	Visible bool `json:"visible"`
}

var (
	Absent        = Presence{}
	PresentHidden = Presence{Present: true}
	PresentShown  = Presence{Present: true, Visible: true}
)

// Toggle is the single transition of the reducer: an absent layer is
// created visible, a present one flips visibility.
func Toggle(p Presence) Presence {
	if !p.Present {
		return PresentShown
	}
	return Presence{Present: true, Visible: !p.Visible}
}

