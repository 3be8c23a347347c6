package common

const (
	ResultTypeProduct = "product"
)

// Result is the event published after each product of a batch
type Result struct {
	Type      string `json:"type"` // product (ResultTypeProduct)
	ProductID string `json:"id"`
	Name      string `json:"name"`
	Status    Status `json:"status"`
	Path      string `json:"path,omitempty"` // local file
	URI       string `json:"uri,omitempty"`  // exported file
	Message   string `json:"message,omitempty"`
}
