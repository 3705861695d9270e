package receipt

import (
	"fmt"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// Data is everything printed on a receipt. Values are preformatted.
type Data struct {
	ClinicName    string
	ClinicID      string
	InvoiceNumber string
	IssueDate     string
	DatePaid      string
	PaymentMethod string
	Amount        string
	Currency      string
}

func renderPDF(data Data) ([]byte, error) {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Página {current} de {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(20,
		text.NewCol(8, "Recibo de pago", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, data.InvoiceNumber, props.Text{
			Size:  12,
			Style: fontstyle.Bold,
			Align: align.Right,
			Top:   4,
		}),
	)

	m.AddRow(30,
		col.New(6).Add(
			text.New(data.ClinicName, props.Text{Style: fontstyle.Bold}),
			text.New(data.ClinicID, props.Text{Top: 5}),
		),
		col.New(6).Add(
			text.New("Factura: "+data.InvoiceNumber, props.Text{Align: align.Right}),
			text.New("Emitida: "+data.IssueDate, props.Text{Top: 5, Align: align.Right}),
			text.New("Pagada: "+data.DatePaid, props.Text{Top: 10, Align: align.Right}),
		),
	)

	m.AddRow(15,
		text.NewCol(12, fmt.Sprintf("%s %s pagado el %s", data.Amount, data.Currency, data.DatePaid), props.Text{
			Size:  14,
			Style: fontstyle.Bold,
			Top:   5,
		}),
	)

	m.AddRow(10,
		text.NewCol(8, "Concepto", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(4, "Importe", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	m.AddRow(10,
		text.NewCol(8, "Suscripción de la plataforma", props.Text{Size: 9}),
		text.NewCol(4, data.Amount+" "+data.Currency, props.Text{Size: 9, Align: align.Right}),
	)
	m.AddRow(10,
		col.New(6),
		text.NewCol(3, "Medio de pago", props.Text{Size: 9}),
		text.NewCol(3, data.PaymentMethod, props.Text{Size: 9, Align: align.Right}),
	)
	m.AddRow(10,
		col.New(6),
		text.NewCol(3, "Total", props.Text{Size: 9, Style: fontstyle.Bold}),
		text.NewCol(3, data.Amount+" "+data.Currency, props.Text{Size: 9, Style: fontstyle.Bold, Align: align.Right}),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return doc.GetBytes(), nil
}
