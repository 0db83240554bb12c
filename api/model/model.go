/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package model

import (
	"errors"

	"github.com/shopspring/decimal"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	outclick "github.com/outclick-labs/outclick"
	"github.com/outclick-labs/outclick/model"
)

// RecordConversion is the inbound payload for reporting a user action.
type RecordConversion struct {
	ClickID           string                 `json:"click_id"`
	Type              string                 `json:"type"`
	TransactionAmount *decimal.Decimal       `json:"transaction_amount,omitempty"`
	ExternalID        string                 `json:"external_id,omitempty"`
	MetaData          map[string]interface{} `json:"meta_data,omitempty"`
}

func (r *RecordConversion) ValidateRecordConversion() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.ClickID, validation.Required),
		validation.Field(&r.Type, validation.Required, validation.In(model.TypeLead, model.TypeSale, model.TypeInstall)),
		validation.Field(&r.TransactionAmount, validation.By(nonNegativeAmount)),
	)
}

func nonNegativeAmount(value interface{}) error {
	amount, ok := value.(*decimal.Decimal)
	if !ok || amount == nil {
		return nil
	}
	if amount.IsNegative() {
		return errors.New("must be non-negative")
	}
	return nil
}

func (r *RecordConversion) ToConversionRequest() outclick.ConversionRequest {
	return outclick.ConversionRequest{
		ClickID:           r.ClickID,
		Type:              r.Type,
		TransactionAmount: r.TransactionAmount,
		ExternalID:        r.ExternalID,
		MetaData:          r.MetaData,
	}
}

// RejectConversion carries the optional human reason.
type RejectConversion struct {
	Reason string `json:"reason,omitempty"`
}

// HoldConversion carries the optional explicit hold window.
type HoldConversion struct {
	Days *int `json:"days,omitempty"`
}

func (h *HoldConversion) ValidateHoldConversion() error {
	return validation.ValidateStruct(h,
		validation.Field(&h.Days, validation.Min(0)),
	)
}
