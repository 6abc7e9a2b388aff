package handler

import (
	"fmt"

	"donation-service/internal/dispatch"
	"donation-service/internal/domain"
	"donation-service/internal/flow"
	"donation-service/internal/form"
	"donation-service/internal/service"
	"donation-service/internal/session"
)

type reviewRow struct {
	Label string
	Value string
}

// inputView is one schema field together with its current value.
type inputView struct {
	form.Field
	Value string
}

func (h *Handler) input(name string, value any) inputView {
	f, ok := h.schema.Field(name)
	if !ok {
		f = form.Field{Name: name, Label: name, Kind: form.KindText}
	}
	return inputView{Field: f, Value: fmt.Sprint(value)}
}

type pageData struct {
	service.Page
	Schema     *form.Schema
	Form       domain.FormInput
	Date       string
	Custom     bool
	Review     []reviewRow
	Flashes    []session.Flash
	Sent       bool
	DirectSend bool
	Filename   string
	// RetryGeneration is set when the input is confirmed but no document could be produced.
	RetryGeneration bool
}

func (h *Handler) pageData(s *session.Session) pageData {
	p := h.svc.Page(s.Machine)
	in := p.Input
	if !p.HasInput {
		in = h.parser.Defaults()
	}
	d := pageData{
		Page:       p,
		Schema:     h.schema,
		Form:       in,
		Date:       in.Date.Format("2006-01-02"),
		Custom:     h.resolver.IsCustom(in.AmountOption),
		Flashes:    s.PopFlashes(),
		Sent:       p.State == flow.EmailSent,
		DirectSend: p.Actions.Mode == dispatch.ModeDirectSend,
		Filename:   domain.DocumentFilename,

		RetryGeneration: p.State == flow.Confirmed,
	}
	if p.HasInput {
		d.Review = h.review(p)
	}
	return d
}

// review shows the frozen snapshot once confirmed, otherwise a preview of the pending input.
func (h *Handler) review(p service.Page) []reviewRow {
	snap := p.Snapshot
	amount := "-"
	if p.HasSnapshot {
		amount = h.formatter.Amount(snap.Amount) + " 円"
	} else {
		in := p.Input
		snap = domain.FormSnapshot{
			Date:            in.Date,
			Name:            in.Name,
			PostalCode:      in.PostalCode,
			Address1:        in.Address1,
			Address2:        in.Address2,
			Email:           in.Email,
			Purpose:         in.Purpose,
			Condition:       in.Condition,
			ConditionDetail: in.ConditionDetail,
			Comment:         in.Comment,
		}
		if n, err := h.resolver.Resolve(in.AmountOption, in.CustomAmount); err == nil {
			amount = h.formatter.Amount(n) + " 円"
		}
	}

	condition := h.schema.ConditionLabel(snap.Condition)
	if snap.Condition == domain.ConditionPresent {
		condition += "（" + snap.ConditionDetail + "）"
	}
	address2 := snap.Address2
	if address2 == "" {
		address2 = domain.NoneText
	}
	return []reviewRow{
		{Label: "申込日", Value: h.formatter.Date(snap.Date)},
		{Label: "寄附者氏名", Value: snap.Name},
		{Label: "住所", Value: h.formatter.Address1(snap)},
		{Label: "住所2", Value: address2},
		{Label: "メールアドレス", Value: snap.Email},
		{Label: "寄附金額", Value: amount},
		{Label: "寄附目的", Value: h.formatter.Purpose(snap.Purpose)},
		{Label: "寄附の条件", Value: condition},
		{Label: "その他コメント", Value: h.formatter.Comment(snap)},
	}
}
