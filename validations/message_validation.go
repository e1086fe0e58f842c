package validations

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	pkgError "github.com/businesswalrus/pup.ai/pkg/error"
	"github.com/businesswalrus/pup.ai/responder/domain"
)

func ValidateGenerateMessage(ctx context.Context, request domain.GenerateRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.ChannelID, validation.Required),
		validation.Field(&request.UserID, validation.Required),
		validation.Field(&request.Text, validation.Required.When(request.TemplateID == "")),
	)

	if err != nil {
		return pkgError.ValidationError(err.Error())
	}

	return nil
}

func ValidateClearContext(ctx context.Context, request domain.ConversationKey) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.ChannelID, validation.Required),
		validation.Field(&request.UserID, validation.Required),
	)

	if err != nil {
		return pkgError.ValidationError(err.Error())
	}

	return nil
}
