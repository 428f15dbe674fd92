package chart

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(s string) time.Time {
	d, err := time.Parse(URLDateLayout, s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestEntryScore(t *testing.T) {
	assert.Equal(t, 100, Entry{Rank: 1}.Score())
	assert.Equal(t, 1, Entry{Rank: 100}.Score())
}

func TestEntryValidate(t *testing.T) {
	valid := Entry{
		Date:   date("1958-08-02"),
		Rank:   1,
		Artist: "Ricky Nelson",
		Title:  "Poor Little Fool",
	}
	require.NoError(t, valid.Validate())

	cases := []struct {
		name   string
		mutate func(*Entry)
	}{
		{"zero date", func(e *Entry) { e.Date = time.Time{} }},
		{"rank too low", func(e *Entry) { e.Rank = 0 }},
		{"rank too high", func(e *Entry) { e.Rank = 101 }},
		{"missing artist", func(e *Entry) { e.Artist = "" }},
		{"missing title", func(e *Entry) { e.Title = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := valid
			tc.mutate(&e)
			assert.Error(t, e.Validate())
		})
	}
}

func TestWeeks(t *testing.T) {
	got := Weeks(date("1958-08-02"), date("1958-08-23"))
	require.Len(t, got, 4)
	assert.Equal(t, date("1958-08-02"), got[0])
	assert.Equal(t, date("1958-08-23"), got[3])

	assert.Nil(t, Weeks(date("1958-08-09"), date("1958-08-02")))
	assert.Len(t, Weeks(date("1958-08-02"), date("1958-08-02")), 1)
}

func TestTaglineDateLayout(t *testing.T) {
	d, err := time.Parse(TaglineDateLayout, "August 2, 1958")
	require.NoError(t, err)
	assert.Equal(t, date("1958-08-02"), d)
}
