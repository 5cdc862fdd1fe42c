package saga

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	berr "github.com/next-trace/scg-service-runtime/contract/errors"
)

// File is the YAML layout of saga definitions:
//
//	sagas:
//	  transfer:
//	    steps:
//	      - name: debit
//	        service: accounts
//	        action: debit
//	        compensation: reverse_debit
//	        timeout: 5s
//	        retry_count: 3
//	        retry_delay: 500ms
type File struct {
	Sagas map[string]struct {
		Steps []StepDefinition `yaml:"steps"`
	} `yaml:"sagas"`
}

// LoadDefinitions decodes saga definitions from r. Unknown keys are rejected.
func LoadDefinitions(r io.Reader) (map[string][]StepDefinition, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode saga definitions: %w", errors.Join(berr.ErrInvalidSaga, err))
	}

	out := make(map[string][]StepDefinition, len(f.Sagas))
	for name, def := range f.Sagas {
		out[name] = def.Steps
	}

	return out, nil
}

// LoadFile reads saga definitions from the YAML file at path.
func LoadFile(path string) (map[string][]StepDefinition, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open saga definitions: %w", err)
	}
	defer fh.Close()

	return LoadDefinitions(fh)
}

// DefineAll registers every definition, in sorted type order. The first invalid
// definition stops the registration.
func (c *Coordinator) DefineAll(defs map[string][]StepDefinition) error {
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}

	slices.Sort(names)

	for _, name := range names {
		if err := c.DefineSaga(name, defs[name]); err != nil {
			return err
		}
	}

	return nil
}
