package instagram

// Media typenames in a post detail response
const (
	TypeImage   = "GraphImage"
	TypeVideo   = "GraphVideo"
	TypeSidecar = "GraphSidecar"
)

// PostResponse is the top-level shape of a /p/<shortcode>/?__a=1 response
type PostResponse struct {
	Graphql Graphql `json:"graphql"`
}

// Graphql wraps the post media
type Graphql struct {
	ShortcodeMedia *Media `json:"shortcode_media"`
}

// Media is one post, or one child of a sidecar post
type Media struct {
	Typename         string           `json:"__typename"`
	ID               string           `json:"id"`
	Shortcode        string           `json:"shortcode"`
	DisplayURL       string           `json:"display_url"`
	VideoURL         string           `json:"video_url"`
	IsVideo          bool             `json:"is_video"`
	TakenAtTimestamp int64            `json:"taken_at_timestamp"`
	Location         *Location        `json:"location"`
	Caption          CaptionEdges     `json:"edge_media_to_caption"`
	Children         *SidecarChildren `json:"edge_sidecar_to_children"`
}

// Location is the tagged place of a post
type Location struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// CaptionEdges holds the caption text nodes
type CaptionEdges struct {
	Edges []struct {
		Node struct {
			Text string `json:"text"`
		} `json:"node"`
	} `json:"edges"`
}

// SidecarChildren holds the media of a multi-image post
type SidecarChildren struct {
	Edges []struct {
		Node Media `json:"node"`
	} `json:"edges"`
}
