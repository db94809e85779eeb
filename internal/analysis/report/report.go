// Package report renders a completed analysis as a PDF.
package report

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"github.com/smallbiznis/testematch/internal/analysis/domain"
)

type Data struct {
	AnalysisID     string
	Tier           string
	OwnerName      string
	CreatedAt      time.Time
	ProcessingTime *float64
	Result         domain.Result
}

type Renderer interface {
	Render(ctx context.Context, data Data) (io.Reader, error)
}

type pdfRenderer struct{}

func New() Renderer {
	return &pdfRenderer{}
}

var (
	titleStyle   = props.Text{Size: 20, Style: fontstyle.Bold, Align: align.Left}
	sectionStyle = props.Text{Size: 12, Style: fontstyle.Bold, Top: 3}
	bodyStyle    = props.Text{Size: 9}
	labelStyle   = props.Text{Size: 9, Style: fontstyle.Bold}
)

func (r *pdfRenderer) Render(ctx context.Context, data Data) (io.Reader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Página {current} de {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(20,
		text.NewCol(8, "Relatório de Personalidade", titleStyle),
		text.NewCol(4, strings.ToUpper(data.Tier), props.Text{Size: 12, Style: fontstyle.Bold, Align: align.Right}),
	)

	meta := []core.Component{
		text.New("Análise: "+data.AnalysisID, props.Text{Size: 9, Top: 0}),
		text.New("Data: "+data.CreatedAt.UTC().Format("02/01/2006 15:04"), props.Text{Size: 9, Top: 4}),
	}
	if data.OwnerName != "" {
		meta = append(meta, text.New("Cliente: "+data.OwnerName, props.Text{Size: 9, Top: 8}))
	}
	if data.ProcessingTime != nil {
		meta = append(meta, text.New(fmt.Sprintf("Tempo de processamento: %.1fs", *data.ProcessingTime), props.Text{Size: 9, Top: 12}))
	}
	m.AddRow(20, col.New(12).Add(meta...))

	res := data.Result
	addField(m, "Tipo MBTI", res.MBTI)
	addField(m, "Estilo amoroso", res.LoveStyle)
	if res.Compatibility.PassionScore != nil {
		addField(m, "Pontuação de paixão", fmt.Sprintf("%.0f/100", *res.Compatibility.PassionScore))
	}
	addField(m, "Cor ideal", res.Compatibility.IdealColor)
	addField(m, "Par ideal", res.Compatibility.IdealMatch)
	addCelebrity(m, "Celebridade brasileira", res.Celebrities.Brazilian)
	addCelebrity(m, "Celebridade internacional", res.Celebrities.International)

	addList(m, "Traços de personalidade", res.PersonalityTraits)
	addList(m, "Pontos fortes", res.Strengths)
	addList(m, "Pontos de atenção", res.Weaknesses)
	addList(m, "Sinais de alerta", res.RedFlags)
	addList(m, "Dicas", res.Tips)
	addList(m, "Roteiros de conversa", res.ConversationScripts)

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(doc.GetBytes()), nil
}

func addField(m core.Maroto, label, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	m.AddRow(8,
		text.NewCol(4, label, labelStyle),
		text.NewCol(8, value, bodyStyle),
	)
}

func addCelebrity(m core.Maroto, label string, c *domain.Celebrity) {
	if c == nil || c.Name == "" {
		return
	}
	value := c.Name
	if c.Similarity != nil {
		value += fmt.Sprintf(" (%.0f%%)", *c.Similarity)
	}
	addField(m, label, value)
	if c.Description != "" {
		m.AddRow(10, col.New(4), text.NewCol(8, c.Description, bodyStyle))
	}
}

func addList(m core.Maroto, title string, items []string) {
	if len(items) == 0 {
		return
	}
	m.AddRow(10, text.NewCol(12, title, sectionStyle))
	for _, item := range items {
		m.AddRow(6, text.NewCol(12, "- "+item, bodyStyle))
	}
}
