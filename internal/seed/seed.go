// Package seed creates counters listed in a YAML file.
package seed

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/juju/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"qms/queue-ticketing/internal/store"
)

// File is the seed document:
//
//	counters:
//	  - name: Loket 1
//	    max_queue: 99
//	    active: true
type File struct {
	Counters []Counter `yaml:"counters"`
}

type Counter struct {
	Name     string `yaml:"name"`
	MaxQueue int    `yaml:"max_queue"`
	Active   *bool  `yaml:"active"`
}

func Parse(r io.Reader) (File, error) {
	var file File
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil && err != io.EOF {
		return File{}, errors.Annotate(err, "decode seed file")
	}
	for i, counter := range file.Counters {
		if strings.TrimSpace(counter.Name) == "" {
			return File{}, errors.NotValidf("counter %d name", i)
		}
		if counter.MaxQueue <= 0 {
			return File{}, errors.NotValidf("counter %q max_queue %d", counter.Name, counter.MaxQueue)
		}
	}
	return file, nil
}

func LoadFile(path string) (File, error) {
	f, err := os.Open(path)
	if err != nil {
		return File{}, errors.Annotatef(err, "open seed file %s", path)
	}
	defer f.Close()
	return Parse(f)
}

// Apply creates every counter that has no live counter with the same name.
// It returns how many were created.
func Apply(ctx context.Context, st store.QueueStore, file File, logger *zap.Logger) (int, error) {
	created := 0
	for _, c := range file.Counters {
		name := strings.TrimSpace(c.Name)
		_, found, err := st.FindCounterByName(ctx, name)
		if err != nil {
			return created, errors.Annotatef(err, "look up counter %q", name)
		}
		if found {
			continue
		}
		active := true
		if c.Active != nil {
			active = *c.Active
		}
		counter, err := st.CreateCounter(ctx, store.CreateCounterInput{Name: name, MaxQueue: c.MaxQueue, IsActive: active})
		if err != nil {
			return created, errors.Annotatef(err, "create counter %q", name)
		}
		created++
		logger.Info("counter seeded",
			zap.Int64("counter_id", counter.ID),
			zap.String("name", counter.Name),
			zap.Int("max_queue", counter.MaxQueue),
		)
	}
	return created, nil
}
