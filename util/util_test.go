package util

import (
	"testing"
	"time"

	"github.com/facebookgo/clock"
)

func TestFormatBytes(t *testing.T) {
	var table = []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{999, "999 B"},
		{1000, "1.0 kB"},
		{123456, "123.5 kB"},
		{2500000, "2.5 MB"},
		{9200000000, "9.2 GB"},
	}
	for _, tab := range table {
		if got := FormatBytes(tab.n); got != tab.want {
			t.Errorf("FormatBytes(%d) = %q, expected %q", tab.n, got, tab.want)
		}
	}
}

func TestValidLink(t *testing.T) {
	var table = []struct {
		link string
		want bool
	}{
		{"https://example.com/form.pdf", true},
		{"http://example.com", true},
		{"ftp://x", false},
		{"example.com/form", false},
		{"https://", false},
		{"", false},
		{"://bad", false},
	}
	for _, tab := range table {
		if got := ValidLink(tab.link); got != tab.want {
			t.Errorf("ValidLink(%q) = %v, expected %v", tab.link, got, tab.want)
		}
	}
}

func TestSchedulerFires(t *testing.T) {
	mock := clock.NewMock()
	s := NewSchedulerWithClock(mock)
	done := make(chan struct{})
	s.After(2*time.Second, func() { close(done) })

	mock.Add(1 * time.Second)
	select {
	case <-done:
		t.Fatal("timer fired early")
	default:
	}
	mock.Add(1 * time.Second)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestSchedulerStop(t *testing.T) {
	mock := clock.NewMock()
	s := NewSchedulerWithClock(mock)
	fired := make(chan struct{}, 1)
	tm := s.After(time.Second, func() { fired <- struct{}{} })
	tm.Stop()
	tm.Stop() // stopping twice is fine
	mock.Add(2 * time.Second)
	select {
	case <-fired:
		t.Fatal("stopped timer fired")
	case <-time.After(50 * time.Millisecond):
	}
}
