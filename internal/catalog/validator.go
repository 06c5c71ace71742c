package catalog

import (
	_ "embed"
	"encoding/json"
	"regexp"
	"sort"

	"github.com/hashicorp/go-multierror"
	"github.com/kaptinlin/jsonschema"
	"github.com/pkg/errors"

	"entitygraph/internal/domain"
)

//go:embed entity.schema.json
var entitySchema []byte

// ErrInvalidEntity is wrapped by every validation failure
var ErrInvalidEntity = errors.New("invalid entity")

// names are alphanumeric sequences separated by a single '-', '_' or '.'
var namePattern = regexp.MustCompile(`^[a-zA-Z0-9]+([-_.][a-zA-Z0-9]+)*$`)

const maxNameLength = 63

// Validator checks entities against the envelope schema and the naming rules
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the embedded entity schema
func NewValidator() (*Validator, error) {
	compiled, err := jsonschema.NewCompiler().Compile(entitySchema)
	if err != nil {
		return nil, errors.Wrap(err, "compile entity schema")
	}
	return &Validator{schema: compiled}, nil
}

// Validate returns every problem found in e, aggregated
func (v *Validator) Validate(e *domain.Entity) error {
	if e == nil {
		return errors.Wrap(ErrInvalidEntity, "nil entity")
	}

	var result *multierror.Error
	for _, problem := range v.schemaProblems(e) {
		result = multierror.Append(result, problem)
	}

	if e.Metadata.Name != "" {
		if err := checkName("metadata.name", e.Metadata.Name); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if e.Metadata.Namespace != "" {
		if err := checkName("metadata.namespace", e.Metadata.Namespace); err != nil {
			result = multierror.Append(result, err)
		}
	}
	for i, rel := range e.Relations {
		if rel.TargetRef == "" {
			continue
		}
		if _, err := domain.ParseRef(rel.TargetRef); err != nil {
			result = multierror.Append(result, errors.Wrapf(ErrInvalidEntity, "relations[%d].targetRef: %v", i, err))
		}
	}

	if result == nil {
		return nil
	}
	return errors.Wrap(result.ErrorOrNil(), e.Ref().String())
}

// ValidateAll validates a batch, prefixing each problem with the entity's
// position and reference.
func (v *Validator) ValidateAll(entities []*domain.Entity) error {
	var result *multierror.Error
	seen := make(map[string]int, len(entities))
	for i, e := range entities {
		if err := v.Validate(e); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "entity %d", i))
			continue
		}
		ref := e.Ref().String()
		if first, ok := seen[ref]; ok {
			result = multierror.Append(result, errors.Wrapf(ErrInvalidEntity, "entity %d: %s duplicates entity %d", i, ref, first))
			continue
		}
		seen[ref] = i
	}
	return result.ErrorOrNil()
}

func (v *Validator) schemaProblems(e *domain.Entity) []error {
	// validate the encoded form so that field names match the schema
	raw, err := json.Marshal(e)
	if err != nil {
		return []error{errors.Wrap(err, "encode entity")}
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return []error{errors.Wrap(err, "decode entity")}
	}

	res := v.schema.Validate(doc)
	if res.IsValid() {
		return nil
	}

	fields := make([]string, 0, len(res.Errors))
	for field := range res.Errors {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	problems := make([]error, 0, len(fields))
	for _, field := range fields {
		problems = append(problems, errors.Wrapf(ErrInvalidEntity, "%s: %s", field, res.Errors[field].Message))
	}
	return problems
}

func checkName(field, value string) error {
	if len(value) > maxNameLength {
		return errors.Wrapf(ErrInvalidEntity, "%s: %q is longer than %d characters", field, value, maxNameLength)
	}
	if !namePattern.MatchString(value) {
		return errors.Wrapf(ErrInvalidEntity, "%s: %q must be alphanumeric words separated by '-', '_' or '.'", field, value)
	}
	return nil
}
