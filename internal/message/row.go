package message

// Kind is the rendering variant of a row.
type Kind int

const (
	OwnText Kind = iota + 1
	OwnImage
	OtherText
	OtherImage
)

func (k Kind) String() string {
	switch k {
	case OwnText:
		return "own-text"
	case OwnImage:
		return "own-image"
	case OtherText:
		return "other-text"
	case OtherImage:
		return "other-image"
	default:
		return "unknown"
	}
}

// Classify picks the row kind from author ownership and image presence.
// A message without an author id is never "own".
func Classify(m Message, currentUserID string) Kind {
	own := m.UserID != nil && *m.UserID == currentUserID
	switch {
	case own && m.HasImage():
		return OwnImage
	case own:
		return OwnText
	case m.HasImage():
		return OtherImage
	default:
		return OtherText
	}
}

// Row is one of OwnTextRow, OwnImageRow, OtherTextRow, OtherImageRow. Each
// variant carries only what it renders.
type Row interface {
	Kind() Kind
	Avatar() string
}

type OwnTextRow struct {
	ID        string
	Text      string
	Time      string
	AvatarURL string
}

type OwnImageRow struct {
	ID        string
	ImageURL  string
	AvatarURL string
}

type OtherTextRow struct {
	Text      string
	Time      string
	AvatarURL string
}

type OtherImageRow struct {
	ImageURL  string
	AvatarURL string
}

func (OwnTextRow) Kind() Kind    { return OwnText }
func (OwnImageRow) Kind() Kind   { return OwnImage }
func (OtherTextRow) Kind() Kind  { return OtherText }
func (OtherImageRow) Kind() Kind { return OtherImage }

func (r OwnTextRow) Avatar() string    { return r.AvatarURL }
func (r OwnImageRow) Avatar() string   { return r.AvatarURL }
func (r OtherTextRow) Avatar() string  { return r.AvatarURL }
func (r OtherImageRow) Avatar() string { return r.AvatarURL }

// ToRow converts m into its row variant for the given viewer.
func ToRow(m Message, currentUserID string) Row {
	avatar := Deref(m.AvatarURL)
	switch Classify(m, currentUserID) {
	case OwnImage:
		return OwnImageRow{ID: Deref(m.ID), ImageURL: *m.PhotoURL, AvatarURL: avatar}
	case OwnText:
		return OwnTextRow{ID: Deref(m.ID), Text: Deref(m.Text), Time: Deref(m.TimeMessage), AvatarURL: avatar}
	case OtherImage:
		return OtherImageRow{ImageURL: *m.PhotoURL, AvatarURL: avatar}
	default:
		return OtherTextRow{Text: Deref(m.Text), Time: Deref(m.TimeMessage), AvatarURL: avatar}
	}
}

// DeleteRequest is what a long press on an own row asks for. ImageURL is set
// for image rows, whose blob must go too.
type DeleteRequest struct {
	ID       string
	ImageURL string
}

func (d DeleteRequest) HasImage() bool { return d.ImageURL != "" }
