package extract

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/OFFIS-RIT/tvkpi/pkg/common"

	"github.com/go-playground/validator"
)

// relationPayload is one relation as returned by the model.
type relationPayload struct {
	KPI        string `json:"kpi" validate:"required" jsonschema:"description=The affected KPI"`
	Factor     string `json:"factor" validate:"required" jsonschema:"description=The factor driving the KPI"`
	Relation   string `json:"relation" validate:"required,oneof=positive negative neutral" jsonschema:"enum=positive,enum=negative,enum=neutral"`
	Evidence   string `json:"evidence" jsonschema:"description=Verbatim quote supporting the relation"`
	Confidence string `json:"confidence" validate:"omitempty,oneof=high medium low" jsonschema:"enum=high,enum=medium,enum=low"`
}

// payload is the JSON object the model must answer with. Both arrays are
// required; an empty array is a valid answer.
type payload struct {
	Relations   []relationPayload `json:"kpi_factor_relations" validate:"required,dive"`
	KeyInsights []string          `json:"key_insights" validate:"required"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	// report JSON field names so failures match the model's answer
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validatePayload(v *validator.Validate, p *payload) error {
	if err := v.Struct(p); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s(%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid payload: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

// toRecords turns a validated payload into relation records for one document.
func toRecords(p payload, in Input) []common.RelationRecord {
	records := make([]common.RelationRecord, 0, len(p.Relations))
	for _, r := range p.Relations {
		confidence := common.Confidence(strings.TrimSpace(r.Confidence))
		if confidence == "" {
			confidence = common.ConfidenceUnknown
		}
		records = append(records, common.RelationRecord{
			Company:    in.Company,
			Date:       in.Date,
			Filename:   in.Filename,
			KPI:        strings.TrimSpace(r.KPI),
			Factor:     strings.TrimSpace(r.Factor),
			Relation:   common.Polarity(r.Relation),
			Evidence:   strings.TrimSpace(r.Evidence),
			Confidence: confidence,
		})
	}
	return records
}
