package farmdata

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Criteria is the filter payload for POST /upload_criteria. Every leaf is
// optional; a nil leaf is sent as JSON null.
type Criteria struct {
	Geo        Geo        `json:"geo" yaml:"geo"`
	Crops      Crops      `json:"crops" yaml:"crops"`
	Livestocks Livestocks `json:"livestocks" yaml:"livestocks"`
	Acreage    Acreage    `json:"acreage" yaml:"acreage"`
}

// Geo narrows the request geographically.
type Geo struct {
	ZipNo      *int    `json:"zip_no" yaml:"zip_no" validate:"omitempty,min=1"`
	CityNo     *int    `json:"City_no" yaml:"City_no" validate:"omitempty,min=1"`
	CountyCode *int    `json:"county_code" yaml:"county_code" validate:"omitempty,min=1"`
	State      *string `json:"STATE" yaml:"STATE" validate:"omitempty,len=2,alpha,uppercase"`
}

// Crops flags farms growing a crop.
type Crops struct {
	Corn    *bool `json:"CORNF" yaml:"CORNF"`
	Soybean *bool `json:"SOYBEANF" yaml:"SOYBEANF"`
	Wheat   *bool `json:"WHEATF" yaml:"WHEATF"`
}

// Livestocks flags farms raising an animal, optionally bucketed by head count.
type Livestocks struct {
	Goats      *bool   `json:"GOATSF" yaml:"GOATSF"`
	Cattle     *bool   `json:"CATTLEF" yaml:"CATTLEF"`
	CattleHead *string `json:"CATTLEHEAD" yaml:"CATTLEHEAD" validate:"omitempty,headbucket"`
	GoatsHead  *string `json:"GOATSHEAD" yaml:"GOATSHEAD" validate:"omitempty,headbucket"`
}

// Acreage selects acreage size classes. Each class is a single letter code
// (A is the smallest band).
type Acreage struct {
	Corn    *string `json:"CORNACRE" yaml:"CORNACRE" validate:"omitempty,len=1,alpha,uppercase"`
	Wheat   *string `json:"WHEATACRE" yaml:"WHEATACRE" validate:"omitempty,len=1,alpha,uppercase"`
	Soybean *string `json:"SOYBEANACRE" yaml:"SOYBEANACRE" validate:"omitempty,len=1,alpha,uppercase"`
	Total   *string `json:"TOTACRES" yaml:"TOTACRES" validate:"omitempty,len=1,alpha,uppercase"`
}

// Criteria file formats accepted by LoadCriteria.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// ErrEmptyCriteria is returned when a criteria payload sets no filter at all.
var ErrEmptyCriteria = eris.New("criteria sets no filters")

// ValidationError lists every field that failed schema validation.
type ValidationError struct {
	Fields []FieldError
}

// FieldError is one invalid criteria field.
type FieldError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "invalid criteria: " + strings.Join(parts, "; ")
}

var (
	validateOnce sync.Once
	validate     *validator.Validate

	headBucketRange = regexp.MustCompile(`^(\d+) to (\d+)$`)
	headBucketOpen  = regexp.MustCompile(`^(\d+)(?: or more|\+)$`)
)

func criteriaValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		_ = validate.RegisterValidation("headbucket", func(fl validator.FieldLevel) bool {
			return ValidHeadBucket(fl.Field().String())
		})
	})
	return validate
}

// ValidHeadBucket reports whether s is a head-count bucket such as
// "251 to 500", "1000 or more" or "1000+".
func ValidHeadBucket(s string) bool {
	if m := headBucketRange.FindStringSubmatch(s); m != nil {
		lo, err1 := strconv.Atoi(m[1])
		hi, err2 := strconv.Atoi(m[2])
		return err1 == nil && err2 == nil && lo <= hi
	}
	return headBucketOpen.MatchString(s)
}

// IsEmpty reports whether no filter is set.
func (c Criteria) IsEmpty() bool {
	return c == (Criteria{})
}

// Validate checks c against the criteria schema.
func (c Criteria) Validate() error {
	if c.IsEmpty() {
		return ErrEmptyCriteria
	}

	err := criteriaValidator().Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return eris.Wrap(err, "validate criteria")
	}

	out := &ValidationError{}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{
			Field:   strings.TrimPrefix(fe.Namespace(), "Criteria."),
			Message: describeTag(fe),
		})
	}
	return out
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "len":
		if fe.Param() == "2" {
			return "must be a two-letter state code"
		}
		return "must be a single letter code"
	case "alpha", "uppercase":
		return "must be upper-case letters"
	case "headbucket":
		return `must be a head-count bucket like "251 to 500" or "1000 or more"`
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}

// LoadCriteria decodes a criteria document in the given format and validates
// it. Unknown fields are rejected rather than silently dropped.
func LoadCriteria(r io.Reader, format string) (Criteria, error) {
	var c Criteria

	switch strings.ToLower(format) {
	case FormatJSON:
		dec := json.NewDecoder(r)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&c); err != nil {
			return Criteria{}, eris.Wrap(err, "farmdata: decode criteria json")
		}
	case FormatYAML, "yml":
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(&c); err != nil {
			return Criteria{}, eris.Wrap(err, "farmdata: decode criteria yaml")
		}
	default:
		return Criteria{}, eris.Errorf("farmdata: unsupported criteria format %q", format)
	}

	if err := c.Validate(); err != nil {
		return Criteria{}, err
	}
	return c, nil
}

// FormatFromPath infers the criteria format from a file extension.
func FormatFromPath(path string) string {
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml") {
		return FormatYAML
	}
	return FormatJSON
}

// YAML renders c as a YAML document with explicit nulls, suitable as an
// editable template.
func (c Criteria) YAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, eris.Wrap(err, "farmdata: encode criteria yaml")
	}
	if err := enc.Close(); err != nil {
		return nil, eris.Wrap(err, "farmdata: encode criteria yaml")
	}
	return buf.Bytes(), nil
}

// DefaultCriteria returns the sample criteria published with the API.
func DefaultCriteria() Criteria {
	return Criteria{
		Geo: Geo{
			ZipNo:      Ptr(23330),
			CityNo:     Ptr(20085),
			CountyCode: Ptr(2706),
			State:      Ptr("IL"),
		},
		Crops: Crops{
			Corn:    Ptr(true),
			Soybean: Ptr(true),
			Wheat:   Ptr(false),
		},
		Livestocks: Livestocks{
			Goats:      Ptr(false),
			Cattle:     Ptr(true),
			CattleHead: Ptr("251 to 500"),
		},
		Acreage: Acreage{
			Corn:    Ptr("E"),
			Soybean: Ptr("C"),
			Total:   Ptr("F"),
		},
	}
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
