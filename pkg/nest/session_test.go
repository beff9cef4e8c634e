package nest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wehubfusion/Daedalus/pkg/rows"
)

func collect(s *Session) *[]any {
	out := &[]any{}
	s.OnObject(func(obj any) { *out = append(*out, obj) })
	return out
}

func TestSession_Ingest_NotifiesOnKeyChange(t *testing.T) {
	s := authorParser(t).NewSession()
	got := collect(s)

	cur, err := s.Ingest(rows.Values{1, "Ann", 10, "a"})
	require.NoError(t, err)
	assert.Empty(t, *got)
	assert.Equal(t, 1, cur.(Object)["authorId"])

	_, err = s.Ingest(rows.Values{1, "Ann", 11, "b"})
	require.NoError(t, err)
	assert.Empty(t, *got)

	cur, err = s.Ingest(rows.Values{2, "Bob", 20, "c"})
	require.NoError(t, err)
	require.Len(t, *got, 1, "the first author is emitted before the second is returned")
	assert.Equal(t, 1, (*got)[0].(Object)["authorId"])
	assert.Equal(t, 2, cur.(Object)["authorId"])

	obj, ok := s.End()
	require.True(t, ok)
	assert.Equal(t, 2, obj.(Object)["authorId"])
	assert.Len(t, *got, 2)
	assert.Equal(t, int64(2), s.Emitted())
}

func TestSession_Ingest_ReturnsOpenObject(t *testing.T) {
	s := authorParser(t).NewSession()

	cur, err := s.Ingest(rows.Values{1, "foo@example.com", 10, "post"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"authorId": 1,
		"name":     "foo@example.com",
		"blogs":    []any{map[string]any{"blogId": 10, "text": "post"}},
	}, cur)
}

func TestSession_Ingest_NullKeyReturnsNothingOpen(t *testing.T) {
	s := authorParser(t).NewSession()

	cur, err := s.Ingest(rows.Values{nil, "x", nil, nil})
	require.NoError(t, err)
	assert.Nil(t, cur)

	_, ok := s.Current()
	assert.False(t, ok)
}

func TestSession_End_FlushesExactlyOnce(t *testing.T) {
	s := authorParser(t).NewSession()
	got := collect(s)

	for _, row := range []rows.Row{
		rows.Values{1, "Ann", 10, "a"},
		rows.Values{2, "Bob", 20, "b"},
		rows.Values{3, "Cid", 30, "c"},
	} {
		_, err := s.Ingest(row)
		require.NoError(t, err)
	}

	_, ok := s.End()
	assert.True(t, ok)
	assert.Len(t, *got, 3)

	obj, ok := s.End()
	assert.False(t, ok)
	assert.Nil(t, obj)
	assert.Len(t, *got, 3)
}

func TestSession_End_EmptyIsNoop(t *testing.T) {
	s := authorParser(t).NewSession()
	got := collect(s)

	_, ok := s.End()
	assert.False(t, ok)
	assert.Empty(t, *got)
}

func TestSession_ReuseAfterEnd(t *testing.T) {
	input := []rows.Row{
		rows.Values{1, "Parent 1", 10, "Child 10"},
		rows.Values{1, "Parent 1", 20, "Child 20"},
	}
	p := authorParser(t)
	s := p.NewSession()
	got := collect(s)

	for pass := 0; pass < 2; pass++ {
		for _, row := range input {
			_, err := s.Ingest(row)
			require.NoError(t, err)
		}
		s.End()
	}

	fresh, err := p.Group(input)
	require.NoError(t, err)

	require.Len(t, *got, 2)
	assert.Equal(t, fresh[0], (*got)[0])
	assert.Equal(t, fresh[0], (*got)[1])
	assert.Len(t, (*got)[1].(Object)["blogs"], 2)
}

func TestSession_Reset_DiscardsWithoutNotification(t *testing.T) {
	s := authorParser(t).NewSession()
	got := collect(s)

	_, err := s.Ingest(rows.Values{1, "Ann", 10, "a"})
	require.NoError(t, err)
	s.Reset()

	_, ok := s.End()
	assert.False(t, ok)
	assert.Empty(t, *got)

	_, err = s.Ingest(rows.Values{1, "Ann", 11, "b"})
	require.NoError(t, err)
	s.End()
	require.Len(t, *got, 1)
	assert.Len(t, (*got)[0].(Object)["blogs"], 1)
}

func TestSession_EmittedObjectsAreFrozen(t *testing.T) {
	s := authorParser(t).NewSession()
	var first Object
	s.OnObject(func(obj any) {
		if first == nil {
			first = obj.(Object)
		}
	})

	for _, row := range []rows.Row{
		rows.Values{1, "Ann", 10, "a"},
		rows.Values{2, "Bob", 10, "b"},
		rows.Values{2, "Bob", 11, "c"},
	} {
		_, err := s.Ingest(row)
		require.NoError(t, err)
	}
	s.End()

	require.NotNil(t, first)
	assert.Equal(t, []any{map[string]any{"blogId": 10, "text": "a"}}, first["blogs"])
}

func TestSession_ComputedErrorLeavesStateUntouched(t *testing.T) {
	boom := errors.New("boom")
	comments := Must(Positional(2, Fields{
		"id": 2,
		"text": func(r rows.Row) (any, error) {
			v, _ := r.Index(3)
			if v == "fail" {
				return nil, boom
			}
			return v, nil
		},
	}))
	p := Must(Positional(0, Fields{"id": 0, "comments": []Spec{comments}}))
	s := p.NewSession()
	got := collect(s)

	_, err := s.Ingest(rows.Values{1, nil, 10, "a"})
	require.NoError(t, err)

	// Opens a new root object whose child fails: the first object must
	// neither be emitted nor replaced.
	_, err = s.Ingest(rows.Values{2, nil, 20, "fail"})
	require.ErrorIs(t, err, boom)
	assert.Empty(t, *got)

	// Extends the root with a failing child: nothing is appended.
	_, err = s.Ingest(rows.Values{1, nil, 11, "fail"})
	require.ErrorIs(t, err, boom)

	cur, ok := s.Current()
	require.True(t, ok)
	assert.Equal(t, map[string]any{
		"id":       1,
		"comments": []any{map[string]any{"id": 10, "text": "a"}},
	}, cur)

	_, err = s.Ingest(rows.Values{1, nil, 11, "b"})
	require.NoError(t, err)
	s.End()
	require.Len(t, *got, 1)
	assert.Len(t, (*got)[0].(Object)["comments"], 2)
}

func TestSession_MultipleObservers(t *testing.T) {
	var a, b int
	s := authorParser(t).NewSession(WithObserver(func(any) { a++ }))
	s.OnObject(func(any) { b++ })
	s.OnObject(nil)

	_, err := s.Ingest(rows.Values{1, "Ann", 10, "a"})
	require.NoError(t, err)
	s.End()

	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)
}

func TestSession_LogsCompletedObjects(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	s := authorParser(t).NewSession(WithLogger(zap.New(core)), WithSessionID("s-1"))
	assert.Equal(t, "s-1", s.ID())

	_, err := s.Ingest(rows.Values{1, "Ann", 10, "a"})
	require.NoError(t, err)
	s.End()

	entries := logs.FilterMessage("object completed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "s-1", entries[0].ContextMap()["session"])
	assert.Equal(t, int64(1), entries[0].ContextMap()["seq"])
}

func TestSession_GeneratesID(t *testing.T) {
	p := authorParser(t)
	assert.NotEmpty(t, p.NewSession().ID())
	assert.NotEqual(t, p.NewSession().ID(), p.NewSession().ID())
}

func TestParser_ConcurrentSessions(t *testing.T) {
	p := authorParser(t)

	var wg sync.WaitGroup
	results := make([][]any, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			input := []rows.Row{
				rows.Values{i, fmt.Sprint("author", i), 10, "a"},
				rows.Values{i, fmt.Sprint("author", i), 11, "b"},
				rows.Values{i + 100, "other", 12, "c"},
			}
			out, err := p.Group(input)
			if err == nil {
				results[i] = out
			}
		}(i)
	}
	wg.Wait()

	for i, out := range results {
		require.Len(t, out, 2)
		assert.Equal(t, i, out[0].(Object)["authorId"])
		assert.Len(t, out[0].(Object)["blogs"], 2)
	}
}

type markLeaf struct{ col int }

func (u markLeaf) NewGrouper() Grouper { return &markGrouper{col: u.col} }

// markGrouper is a custom leaf collecting one value per row.
type markGrouper struct {
	col int
}

func (g *markGrouper) Prepare(row rows.Row, fresh bool) (Step, error) {
	v, _ := row.Index(g.col)
	return StepFunc(func() (any, bool) {
		return fmt.Sprintf("<%v>", v), true
	}), nil
}

func (g *markGrouper) Current() (any, bool) { return nil, false }
func (g *markGrouper) End() (any, bool)     { return nil, false }

func TestSession_CustomSpecLeaf(t *testing.T) {
	p := Must(Positional(0, Fields{"id": 0, "marks": []Spec{markLeaf{col: 1}}}))

	got, err := p.Group([]rows.Row{
		rows.Values{1, "a"},
		rows.Values{1, "a"},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"id": 1, "marks": []any{"<a>", "<a>"}}}, got)
}

func TestParser_GroupSource(t *testing.T) {
	src := rows.NewSliceSource(
		rows.Values{1, "Ann", 10, "a"},
		rows.Values{2, "Bob", 20, "b"},
	)

	got, err := authorParser(t).GroupSource(context.Background(), src)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestNewSession_AnySpec(t *testing.T) {
	s := NewSession(Must(Scalar(rows.Index(0))))
	got := collect(s)

	for _, v := range []any{"a", "a", "b"} {
		_, err := s.Ingest(rows.Values{v})
		require.NoError(t, err)
	}
	s.End()
	assert.Equal(t, []any{"a", "b"}, *got)
}

func TestSession_Ingest_BuildsBeforeNotifying(t *testing.T) {
	var events []string
	p := Must(Positional(0, Fields{
		"id": 0,
		"trace": func(r rows.Row) any {
			v, _ := r.Index(0)
			events = append(events, fmt.Sprintf("build %v", v))
			return nil
		},
	}))
	s := p.NewSession()
	s.OnObject(func(obj any) {
		events = append(events, fmt.Sprintf("emit %v", obj.(Object)["id"]))
	})

	_, err := s.Ingest(rows.Values{1})
	require.NoError(t, err)
	_, err = s.Ingest(rows.Values{2})
	require.NoError(t, err)
	s.End()

	assert.Equal(t, []string{"build 1", "build 2", "emit 1", "emit 2"}, events)
}
