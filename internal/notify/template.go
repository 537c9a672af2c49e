package notify

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/marketplace-orders/internal/orders"
)

//go:embed templates/*.html
var templateFS embed.FS

var orderTmpl = template.Must(template.New("order.html").
	Funcs(template.FuncMap{
		"money": func(d decimal.Decimal) string { return "$" + d.StringFixed(2) },
	}).
	ParseFS(templateFS, "templates/order.html"))

type emailData struct {
	Heading  string
	Audience Audience
	Order    orders.OrderSummary
}

func renderOrderEmail(data emailData) (string, error) {
	var buf bytes.Buffer
	if err := orderTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render order email: %w", err)
	}
	return buf.String(), nil
}
