package model_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/datacampus/dcx/loader/model"
)

func TestParseStrategy(t *testing.T) {
	testCases := []struct {
		input   string
		want    model.Strategy
		wantErr bool
	}{
		{input: "", want: model.OverwriteStrategy},
		{input: "overwrite", want: model.OverwriteStrategy},
		{input: "APPEND", want: model.AppendStrategy},
		{input: "replace", want: model.ReplaceStrategy},
		{input: "truncate", want: model.ReplaceStrategy},
		{input: "upsert", wantErr: true},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.input, func(t *testing.T) {
			got, err := model.ParseStrategy(tc.input)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestParseFormat(t *testing.T) {
	f, err := model.ParseFormat("TSV")
	require.NoError(t, err)
	require.Equal(t, model.TSVFormat, f)
	require.Equal(t, '\t', f.Delimiter())
	require.True(t, f.Delimited())

	f, err = model.ParseFormat("")
	require.NoError(t, err)
	require.Equal(t, model.AutoFormat, f)
	require.False(t, model.SingleColumnFormat.Delimited())

	_, err = model.ParseFormat("parquet")
	require.Error(t, err)
}

func TestTags(t *testing.T) {
	t.Run("parse keeps order and values with equals", func(t *testing.T) {
		tags, err := model.ParseTags([]string{"region=eu", "query=a=b", "batch="})
		require.NoError(t, err)
		require.Equal(t, model.Tags{
			{Key: "region", Value: "eu"},
			{Key: "query", Value: "a=b"},
			{Key: "batch", Value: ""},
		}, tags)
		require.Equal(t, []string{"region", "query", "batch"}, tags.Keys())
		require.Equal(t, "region=eu,query=a=b,batch=", tags.String())
	})
	t.Run("parse rejects bad pairs", func(t *testing.T) {
		_, err := model.ParseTags([]string{"novalue"})
		require.Error(t, err)
		_, err = model.ParseTags([]string{"=x"})
		require.Error(t, err)
		_, err = model.ParseTags([]string{"a=1", "A=2"})
		require.Error(t, err)
		_, err = model.ParseTags([]string{"region IS NOT NULL OR region=x"})
		require.ErrorContains(t, err, "unsafe key")
	})
	t.Run("validate rejects keys unsafe in sql", func(t *testing.T) {
		require.NoError(t, model.Tags{{Key: "region", Value: "eu"}}.Validate())
		require.Error(t, model.Tags{{Key: "region = region OR 1", Value: "eu"}}.Validate())
		require.Error(t, model.Tags{{Key: "a", Value: "1"}, {Key: "A", Value: "2"}}.Validate())
	})
	t.Run("merge overrides in place", func(t *testing.T) {
		base := model.Tags{{Key: "env", Value: "dev"}, {Key: "team", Value: "core"}}
		merged := base.Merge(model.Tags{{Key: "ENV", Value: "prod"}, {Key: "run", Value: "7"}})
		require.Equal(t, model.Tags{
			{Key: "env", Value: "prod"},
			{Key: "team", Value: "core"},
			{Key: "run", Value: "7"},
		}, merged)
		require.Equal(t, "dev", base[0].Value)
	})
	t.Run("json keeps order", func(t *testing.T) {
		tags := model.Tags{{Key: "z", Value: "1"}, {Key: "a", Value: `q"uote`}}
		b, err := tags.MarshalJSON()
		require.NoError(t, err)
		require.Equal(t, `{"z":"1","a":"q\"uote"}`, string(b))

		var decoded model.Tags
		require.NoError(t, decoded.UnmarshalJSON(b))
		require.Equal(t, tags, decoded)

		require.Error(t, decoded.UnmarshalJSON([]byte(`[1,2]`)))
	})
	t.Run("empty json object", func(t *testing.T) {
		b, err := model.Tags{}.MarshalJSON()
		require.NoError(t, err)
		require.Equal(t, "{}", string(b))
	})
}

func TestTableRef(t *testing.T) {
	ref, err := model.ParseTableRef("analytics.raw.events")
	require.NoError(t, err)
	require.Equal(t, model.TableRef{Database: "analytics", Schema: "raw", Table: "events"}, ref)
	require.Equal(t, "analytics.raw.events", ref.String())
	require.Equal(t, "raw.history", model.TableRef{Schema: "raw", Table: "events"}.WithTable("history").String())

	ref, err = model.ParseTableRef("events")
	require.NoError(t, err)
	require.Equal(t, model.TableRef{Table: "events"}, ref)

	for _, bad := range []string{"a.b.c.d", "raw.1events", "raw.ev;ents", ""} {
		_, err := model.ParseTableRef(bad)
		require.Error(t, err, bad)
	}
}

func TestLoadSpec_Validate(t *testing.T) {
	valid := model.LoadSpec{
		Source:      "data.csv",
		Destination: model.TableRef{Schema: "raw", Table: "events"},
		Tags:        model.Tags{{Key: "batch", Value: "it's fine"}},
		Strategy:    model.OverwriteStrategy,
		Grants:      []string{"ANALYST"},
	}
	require.NoError(t, valid.Validate())

	testCases := []struct {
		name   string
		mutate func(*model.LoadSpec)
	}{
		{name: "missing source", mutate: func(s *model.LoadSpec) { s.Source = "" }},
		{name: "missing table", mutate: func(s *model.LoadSpec) { s.Destination.Table = "" }},
		{name: "unsafe tag key", mutate: func(s *model.LoadSpec) { s.Tags = model.Tags{{Key: "a b", Value: "x"}} }},
		{name: "duplicate tag key", mutate: func(s *model.LoadSpec) {
			s.Tags = model.Tags{{Key: "a", Value: "x"}, {Key: "A", Value: "y"}}
		}},
		{name: "unsafe role", mutate: func(s *model.LoadSpec) { s.Grants = []string{"r; drop"} }},
		{name: "bad strategy", mutate: func(s *model.LoadSpec) { s.Strategy = "merge" }},
		{name: "negative skip", mutate: func(s *model.LoadSpec) { s.SkipHeader = -1 }},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			s := valid
			tc.mutate(&s)
			require.Error(t, s.Validate())
		})
	}
}

// upperUnquoted resolves identifiers the way snowflake does.
func upperUnquoted(name string, quoted bool) string {
	if quoted {
		return name
	}
	return strings.ToUpper(name)
}

func TestTargetSchema(t *testing.T) {
	s := model.TargetSchema{
		System: model.SystemColumns(true),
		Tags:   []model.Column{{Name: "batch", Type: model.StringColumn}},
		Data:   []model.Column{{Name: "name", Type: model.StringColumn, Quoted: true}},
	}
	require.NoError(t, s.Validate(upperUnquoted))
	names := make([]string, 0)
	for _, c := range s.Columns() {
		names = append(names, c.Name)
	}
	require.Equal(t, []string{"_source_file", "_load_timestamp", "is_most_recent", "batch", "name"}, names)
	require.True(t, s.HasColumn("BATCH"))
	require.False(t, s.HasColumn("NAME"))

	t.Run("unquoted collision", func(t *testing.T) {
		s := s
		s.Tags = append(s.Tags, model.Column{Name: "BATCH", Type: model.StringColumn})
		require.ErrorIs(t, s.Validate(upperUnquoted), model.ErrSchemaConflict)
	})
	t.Run("quoted upper-case collides with unquoted", func(t *testing.T) {
		s := s
		s.Data = []model.Column{{Name: "BATCH", Type: model.StringColumn, Quoted: true}}
		require.ErrorIs(t, s.Validate(upperUnquoted), model.ErrSchemaConflict)
	})
	t.Run("quoted lower-case does not collide", func(t *testing.T) {
		s := s
		s.Data = []model.Column{{Name: "batch", Type: model.StringColumn, Quoted: true}}
		require.NoError(t, s.Validate(upperUnquoted))
		require.ErrorIs(t, s.Validate(func(name string, _ bool) string { return strings.ToLower(name) }), model.ErrSchemaConflict)
	})
}

func TestErrorKind(t *testing.T) {
	require.Equal(t, "", model.ErrorKind(nil))
	require.Equal(t, "Unknown", model.ErrorKind(errors.New("boom")))
	require.Equal(t, "LineTooLong", model.ErrorKind(fmt.Errorf("%w: a.txt line 3", model.ErrLineTooLong)))
	require.Equal(t, "PartialFailure", model.ErrorKind(
		fmt.Errorf("%w: %w", model.ErrPartialFailure, model.ErrDMLFailure),
	))
	require.True(t, model.IsFileLocal(fmt.Errorf("x: %w", model.ErrMalformedRow)))
	require.False(t, model.IsFileLocal(model.ErrDDLFailure))
}

func TestTruncateError(t *testing.T) {
	require.Equal(t, "short", model.TruncateError("short", 1000))
	require.Len(t, model.TruncateError(strings.Repeat("x", 1500), 1000), 1000)
	require.Equal(t, "ééé", model.TruncateError("éééé", 3))
}
