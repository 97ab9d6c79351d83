package services

import (
	"fmt"
	"maps"
	"regexp"

	"github.com/sequra/s3logsbeat/internal/core/domain"
	"github.com/sequra/s3logsbeat/internal/core/ports/driven"
)

// Source is one configured input bound to its object store and parser.
type Source struct {
	// Name identifies the source in logs.
	Name string

	// Input is the input configuration.
	Input domain.InputConfig

	// Store lists and opens the input's objects.
	Store driven.ObjectStore

	// Prefixes are listed on every scan. For S3 inputs these are key
	// prefixes, for log inputs glob patterns. Queue sources have none.
	Prefixes []string

	// Queue announces the objects of sqs inputs. Store only opens them.
	Queue driven.NotificationQueue

	// Parser decodes records of this input.
	Parser driven.Parser

	keyFields *regexp.Regexp
}

// NewSource validates and binds an input.
func NewSource(name string, input domain.InputConfig, store driven.ObjectStore, parser driven.Parser, prefixes []string) (*Source, error) {
	if store == nil || parser == nil {
		return nil, fmt.Errorf("%w: source %s needs a store and a parser", domain.ErrInvalidInput, name)
	}
	if len(prefixes) == 0 {
		prefixes = []string{""}
	}
	s := &Source{
		Name:     name,
		Input:    input,
		Store:    store,
		Prefixes: prefixes,
		Parser:   parser,
	}
	if input.KeyRegexFields != "" {
		re, err := regexp.Compile(input.KeyRegexFields)
		if err != nil {
			return nil, fmt.Errorf("%w: key_regex_fields: %w", domain.ErrInvalidConfig, err)
		}
		s.keyFields = re
	}
	return s, nil
}

// NewQueueSource binds an input whose objects are announced on queue
// and read through store.
func NewQueueSource(name string, input domain.InputConfig, queue driven.NotificationQueue, store driven.ObjectStore, parser driven.Parser) (*Source, error) {
	if queue == nil {
		return nil, fmt.Errorf("%w: source %s needs a queue", domain.ErrInvalidInput, name)
	}
	s, err := NewSource(name, input, store, parser, nil)
	if err != nil {
		return nil, err
	}
	s.Queue = queue
	s.Prefixes = nil
	return s, nil
}

// Enrich adds object key fields, static fields and source metadata to ev.
func (s *Source) Enrich(ev *domain.Event, ref domain.ObjectRef) {
	if ev.Fields == nil {
		ev.Fields = make(map[string]any)
	}
	if s.keyFields != nil {
		if m := s.keyFields.FindStringSubmatch(ref.Key); m != nil {
			for i, name := range s.keyFields.SubexpNames() {
				if name != "" && m[i] != "" {
					ev.Fields[name] = m[i]
				}
			}
		}
	}
	if len(s.Input.Fields) > 0 {
		ev.Fields["fields"] = maps.Clone(s.Input.Fields)
	}
	ev.Fields["source"] = ref.String()
}
