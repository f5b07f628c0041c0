package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobKeyString(t *testing.T) {
	t.Parallel()

	date := time.Date(2025, 4, 7, 13, 45, 0, 0, time.UTC)
	key := NewJobKey(date, Section3, ModeFull)
	assert.Equal(t, "2025-04-07_secao3_completo", key.String())
}

func TestParseSection(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    Section
		wantErr bool
	}{
		{in: "1", want: Section1},
		{in: "3", want: Section3},
		{in: "e", want: SectionExtra},
		{in: "extra", want: SectionExtra},
		{in: "4", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseSection(tc.in)
		if tc.wantErr {
			require.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got)
	}
}

func TestStateTransitions(t *testing.T) {
	t.Parallel()

	// Forward path, one step at a time.
	order := []JobState{StatePending, StateCollecting, StateProcessing, StateOrganizing, StateIndexing, StateSucceeded}
	for i := 0; i < len(order)-1; i++ {
		assert.True(t, order[i].CanTransition(order[i+1]), "%s -> %s", order[i], order[i+1])
	}

	// No stage skipping.
	assert.False(t, StatePending.CanTransition(StateProcessing))
	assert.False(t, StateCollecting.CanTransition(StateOrganizing))
	assert.False(t, StateCollecting.CanTransition(StateSucceeded))

	// No re-entering a completed stage.
	assert.False(t, StateProcessing.CanTransition(StateCollecting))

	// Failed and Cancelled reachable from any non-terminal state.
	for _, s := range []JobState{StatePending, StateCollecting, StateProcessing, StateOrganizing, StateIndexing} {
		assert.True(t, s.CanTransition(StateFailed), "%s -> failed", s)
		assert.True(t, s.CanTransition(StateCancelled), "%s -> cancelled", s)
	}

	// Terminal states allow nothing.
	for _, s := range []JobState{StateSucceeded, StateFailed, StateCancelled} {
		for _, next := range []JobState{StatePending, StateCollecting, StateFailed, StateCancelled, StateSucceeded} {
			assert.False(t, s.CanTransition(next), "%s -> %s", s, next)
		}
	}
}

func TestJobClone(t *testing.T) {
	t.Parallel()

	job := Job{
		Key:       NewJobKey(time.Now(), Section1, ModeFull),
		State:     StateCollecting,
		Artifacts: map[StageName]ArtifactRef{StageCollect: "a"},
		Error:     &ErrorInfo{Stage: StageCollect, Kind: KindTimeout},
	}
	clone := job.Clone()
	clone.Artifacts[StageProcess] = "b"
	clone.Error.Kind = KindFatal

	assert.Len(t, job.Artifacts, 1)
	assert.Equal(t, KindTimeout, job.Error.Kind)
}

func TestErrorKindMatching(t *testing.T) {
	t.Parallel()

	err := NewError(KindAlreadyRunning, "", ErrAlreadyRunning.Message, nil)
	assert.True(t, errors.Is(err, ErrAlreadyRunning))

	wrapped := NewError(KindTimeout, StageProcess, "deadline", errors.New("boom"))
	assert.Equal(t, KindTimeout, KindOf(wrapped))
	assert.Equal(t, KindFatal, KindOf(errors.New("plain")))

	var pe *Error
	require.True(t, errors.As(wrapped, &pe))
	assert.Equal(t, StageProcess, pe.Stage)
}

func TestErrorSentinelsStayDistinct(t *testing.T) {
	t.Parallel()

	// Sharing a kind is not enough to satisfy a sentinel comparison.
	other := NewError(KindValidationFailure, StageCollect, "page not found", nil)
	assert.False(t, errors.Is(other, ErrNoArtifact))
	assert.False(t, errors.Is(ErrNoArtifact, other))

	// Wrapping keeps the sentinel reachable through the cause chain.
	wrapped := NewError(KindValidationFailure, StageCollect, "no prior run", ErrNoArtifact)
	assert.True(t, errors.Is(wrapped, ErrNoArtifact))
}

func TestRawArtifactValidate(t *testing.T) {
	t.Parallel()

	valid := &RawArtifact{
		Schema:       SchemaVersion,
		Data:         "2025-04-07",
		Secao:        Section3,
		TotalPaginas: 2,
		Paginas: []RawPage{
			{NumeroPagina: 1, Publicacoes: []Publication{{ID: "p1", Titulo: "Portaria 12"}}},
			{NumeroPagina: 2},
		},
	}
	require.NoError(t, valid.Validate())

	dup := *valid
	dup.Paginas = []RawPage{{NumeroPagina: 1}, {NumeroPagina: 1}}
	assert.Error(t, dup.Validate())

	badDate := *valid
	badDate.Data = "07/04/2025"
	assert.Error(t, badDate.Validate())

	wrongSchema := *valid
	wrongSchema.Schema = 99
	assert.Error(t, wrongSchema.Validate())

	empty := *valid
	empty.Paginas = nil
	assert.Error(t, empty.Validate())
}

func TestOrganizedArtifactValidate(t *testing.T) {
	t.Parallel()

	art := &OrganizedArtifact{
		Schema: SchemaVersion,
		Data:   "2025-04-07",
		Secao:  Section3,
		Rows: []Row{
			{DataPublicacao: "2025-04-07", Titulo: "Edital 5", NumeroPagina: 1},
		},
	}
	require.NoError(t, art.Validate())

	art.Rows[0].Titulo = ""
	assert.Error(t, art.Validate())
}

func TestCacheEntryExpired(t *testing.T) {
	t.Parallel()

	now := time.Now()
	entry := CacheEntry{FetchedAt: now.Add(-time.Hour), TTL: 30 * time.Minute}
	assert.True(t, entry.Expired(now))

	entry.TTL = 2 * time.Hour
	assert.False(t, entry.Expired(now))
}
