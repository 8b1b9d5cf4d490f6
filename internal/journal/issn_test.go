package journal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeISSN(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "0028-0836", want: "0028-0836"},
		{in: "00280836", want: "0028-0836"},
		{in: " 1476-468x ", want: "1476-468X"},
		{in: "1476 4687", want: "1476-4687"},
		{in: "1234-56X7", wantErr: true},
		{in: "123", wantErr: true},
		{in: "abcd-efgh", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range tests {
		got, err := NormalizeISSN(tc.in)
		if tc.wantErr {
			require.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got)
	}
}

func TestPreferredAliasOrdersByKind(t *testing.T) {
	t.Parallel()

	aliases := []IssnAlias{
		{ISSN: "2222-2222", Kind: AliasElectronic},
		{ISSN: "3333-3333", Kind: AliasUnknown},
		{ISSN: "1111-1111", Kind: AliasPrint},
	}
	got, ok := PreferredAlias(aliases)
	require.True(t, ok)
	require.Equal(t, "1111-1111", got.ISSN)

	aliases = append(aliases, IssnAlias{ISSN: "9999-9999", Kind: AliasLinking})
	got, ok = PreferredAlias(aliases)
	require.True(t, ok)
	require.Equal(t, AliasLinking, got.Kind)

	_, ok = PreferredAlias(nil)
	require.False(t, ok)
}

func TestRunPausedCondition(t *testing.T) {
	t.Parallel()

	run := CrawlRun{Status: RunRunning, ProducerStatus: SidePaused, ConsumerStatus: SideCompleted}
	require.True(t, run.Paused())

	run.ConsumerStatus = SideWaiting
	require.False(t, run.Paused())

	run = CrawlRun{Status: RunCompleted, ProducerStatus: SidePaused, ConsumerStatus: SideCompleted}
	require.False(t, run.Paused())
}

func TestParseHelpers(t *testing.T) {
	t.Parallel()

	src, err := ParseSource("doaj")
	require.NoError(t, err)
	require.Equal(t, SourceDOAJ, src)
	_, err = ParseSource("scopus")
	require.Error(t, err)

	st, err := ParseFetchState("failed")
	require.NoError(t, err)
	require.Equal(t, FetchFailed, st)
	_, err = ParseFetchState("done")
	require.Error(t, err)

	rt, err := ParseRunType("retry")
	require.NoError(t, err)
	require.Equal(t, RunRetry, rt)
	_, err = ParseRunType("partial")
	require.Error(t, err)

	require.Len(t, EnrichmentSources(), 5)
	require.Equal(t, SourceOpenAlex, AllSources()[0])
}
