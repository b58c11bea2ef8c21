package search

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/bwl/forest/pkg/store"
)

// ErrAmbiguousRef is wrapped by AmbiguousError and matched with errors.Is.
var ErrAmbiguousRef = errors.New("reference matches multiple nodes")

// ErrRefNotFound is returned when a reference resolves to nothing.
var ErrRefNotFound = errors.New("reference does not resolve")

// maxCandidates caps the candidate list carried by an AmbiguousError.
const maxCandidates = 5

// minIDPrefix is the shortest accepted UUID prefix.
const minIDPrefix = 4

// AmbiguousError carries up to five candidate nodes for a reference that
// matched more than one.
type AmbiguousError struct {
	Ref        string
	Candidates []*store.Node
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("reference %q matches %d nodes", e.Ref, len(e.Candidates))
}

func (e *AmbiguousError) Unwrap() error { return ErrAmbiguousRef }

// Reference kinds, decided once by the parser.
type RefKind int

const (
	RefUUIDPrefix RefKind = iota
	RefRecency            // @N: N-th most recently updated node, 1-based
	RefTag                // #tag: unique node carrying the tag
	RefTitle              // "substring": unique title substring
)

// Ref is a parsed node reference.
type Ref struct {
	Kind  RefKind
	Value string
	Index int // For RefRecency
}

var uuidPrefixPattern = regexp.MustCompile(`^[0-9a-fA-F-]+$`)

// ParseRef classifies a reference string. Downstream components only ever
// see the resolved node id.
func ParseRef(ref string) (Ref, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return Ref{}, fmt.Errorf("empty reference: %w", ErrRefNotFound)
	case strings.HasPrefix(ref, "@"):
		n, err := strconv.Atoi(ref[1:])
		if err != nil || n < 1 {
			return Ref{}, fmt.Errorf("malformed recency reference %q", ref)
		}
		return Ref{Kind: RefRecency, Index: n}, nil
	case strings.HasPrefix(ref, "#"):
		tag := strings.ToLower(ref[1:])
		if tag == "" {
			return Ref{}, fmt.Errorf("malformed tag reference %q", ref)
		}
		return Ref{Kind: RefTag, Value: tag}, nil
	case strings.HasPrefix(ref, `"`) && strings.HasSuffix(ref, `"`) && len(ref) > 1:
		return Ref{Kind: RefTitle, Value: strings.Trim(ref, `"`)}, nil
	default:
		bare := strings.ReplaceAll(ref, "-", "")
		if !uuidPrefixPattern.MatchString(ref) || len(bare) < minIDPrefix {
			// Anything that is not a UUID prefix reads as a title
			// substring.
			return Ref{Kind: RefTitle, Value: ref}, nil
		}
		return Ref{Kind: RefUUIDPrefix, Value: strings.ToLower(ref)}, nil
	}
}

// Resolve turns a reference string into the unique node it names.
// Ambiguity is an error carrying up to five candidates.
func (s *Service) Resolve(ctx context.Context, ref string) (*store.Node, error) {
	parsed, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}

	switch parsed.Kind {
	case RefRecency:
		nodes, err := s.store.ListNodes(ctx, store.NodeFilter{Limit: parsed.Index})
		if err != nil {
			return nil, err
		}
		if len(nodes) < parsed.Index {
			return nil, fmt.Errorf("@%d: only %d nodes exist: %w", parsed.Index, len(nodes), ErrRefNotFound)
		}
		return nodes[parsed.Index-1], nil

	case RefTag:
		ids, err := s.store.NodeIDsWithTag(ctx, parsed.Value)
		if err != nil {
			return nil, err
		}
		nodes, err := s.store.GetNodesByIDs(ctx, ids)
		if err != nil {
			return nil, err
		}
		return s.unique(ref, nodes)

	case RefTitle:
		nodes, err := s.Metadata(ctx, Criteria{
			TitleSubstring: parsed.Value,
			IncludeChunks:  true,
			Limit:          maxCandidates + 1,
		})
		if err != nil {
			return nil, err
		}
		return s.unique(ref, nodes)

	default:
		nodes, err := s.store.FindNodesByIDPrefix(ctx, parsed.Value)
		if err != nil {
			return nil, err
		}
		return s.unique(ref, nodes)
	}
}

func (s *Service) unique(ref string, nodes []*store.Node) (*store.Node, error) {
	switch len(nodes) {
	case 0:
		return nil, fmt.Errorf("%q: %w", ref, ErrRefNotFound)
	case 1:
		return nodes[0], nil
	default:
		if len(nodes) > maxCandidates {
			nodes = nodes[:maxCandidates]
		}
		return nil, &AmbiguousError{Ref: ref, Candidates: nodes}
	}
}
