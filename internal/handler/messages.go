package handler

import (
	"errors"
	"fmt"

	"donation-service/internal/config"
	"donation-service/internal/dispatch"
	"donation-service/internal/document"
	"donation-service/internal/flow"
	"donation-service/internal/sender"
	"donation-service/internal/validator"
)

const (
	msgConfirmUnchecked = "入力内容を確認し、チェックを入れてください。"
	msgGenerated        = "✅ 寄附申込書を作成しました。ダウンロードしてください。"
	msgSent             = "✅ メールを送信しました。控えを入力いただいたメールアドレスにお送りしています。"
	msgAlreadySent      = "この申込書はすでに送信済みです。"
	msgStale            = "入力内容が更新されています。最新の内容でもう一度操作してください。"
	msgNotYet           = "この操作はまだ行えません。上から順に手続きを進めてください。"
	msgMailDisabled     = "メール送信の設定がされていないため、メールを送信できません。"
	msgWrongMode        = "この操作は現在のメール設定では利用できません。"
	msgTemplate         = "❌ 寄附申込書の作成に失敗しました。テンプレートファイルを確認してください。"
	msgAuth             = "❌ メール送信に失敗しました: 送信サーバーの認証に失敗しました。"
	msgTransport        = "❌ メール送信に失敗しました: しばらくしてからもう一度お試しください。"
	msgOutcomeUnknown   = "⚠️ 送信サーバーから受付の確認が得られませんでした。重複を防ぐため再送信はできません。控えのメールが届いていない場合は担当者までご連絡ください。"
)

var fieldMessages = map[error]string{
	validator.ErrMissingDate:          "申込日を入力してください。",
	validator.ErrEmptyName:            "寄附者氏名を入力してください。",
	validator.ErrInvalidPostalCode:    "郵便番号はハイフンなしの7桁の数字で入力してください。",
	validator.ErrEmptyAddress:         "住所1を入力してください。",
	validator.ErrEmptyEmail:           "メールアドレスを入力してください。",
	validator.ErrInvalidEmailFormat:   "メールアドレスの形式が正しくありません。",
	validator.ErrInvalidAmount:        "寄附金額は1円以上で入力してください。",
	validator.ErrUnknownAmountOption:  "金額の選択肢が正しくありません。",
	validator.ErrUnknownPurpose:       "寄附先を選択してください。",
	validator.ErrUnknownCondition:     "寄附の条件を選択してください。",
	validator.ErrEmptyConditionDetail: "条件の内容を入力してください。",
}

// message turns err into the text shown to the donor.
func (h *Handler) message(err error) string {
	var (
		vErr       *validator.ValidationError
		tplErr     *document.TemplateError
		authErr    *sender.AuthError
		tpErr      *sender.TransportError
		unknownErr *sender.UnknownOutcomeError
	)
	switch {
	case errors.As(err, &vErr):
		for sentinel, msg := range fieldMessages {
			if errors.Is(vErr.Err, sentinel) {
				return msg
			}
		}
		return fmt.Sprintf("「%s」の値を読み取れませんでした。", h.label(vErr.Field))
	case errors.As(err, &tplErr):
		return msgTemplate
	case errors.As(err, &unknownErr):
		return msgOutcomeUnknown
	case errors.As(err, &authErr):
		return msgAuth
	case errors.As(err, &tpErr):
		return msgTransport
	case errors.Is(err, flow.ErrAlreadySent):
		return msgAlreadySent
	case errors.Is(err, flow.ErrStaleCycle):
		return msgStale
	case errors.Is(err, flow.ErrInvalidTransition):
		return msgNotYet
	case errors.Is(err, dispatch.ErrNotConfigured), errors.Is(err, config.ErrMailNotConfigured):
		return msgMailDisabled
	case errors.Is(err, dispatch.ErrWrongMode):
		return msgWrongMode
	}
	return fmt.Sprintf("❌ エラーが発生しました: %v", err)
}

// label returns the display label of a form field, or its name when the schema has none.
func (h *Handler) label(name string) string {
	if f, ok := h.schema.Field(name); ok && f.Label != "" {
		return f.Label
	}
	return name
}
