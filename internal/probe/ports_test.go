package probe

import (
	"reflect"
	"testing"
)

const ssSample = `Netid State  Recv-Q Send-Q Local Address:Port  Peer Address:Port Process
udp   UNCONN 0      0            0.0.0.0:5353       0.0.0.0:*     users:(("avahi",pid=612,fd=12))
tcp   LISTEN 0      511          0.0.0.0:3000       0.0.0.0:*     users:(("node",pid=4242,fd=20))
tcp   LISTEN 0      128             [::]:22            [::]:*     users:(("sshd",pid=801,fd=3))
tcp   ESTAB  0      0          127.0.0.1:45678    127.0.0.1:3000  users:(("curl",pid=9001,fd=5))
tcp   LISTEN 0      511             [::]:3000          [::]:*     users:(("node",pid=4242,fd=21))
`

const netstatSample = "Proto  Local Address          Foreign Address        State           PID\r\n" +
	"  TCP    0.0.0.0:3000           0.0.0.0:0              LISTENING       4242\r\n" +
	"  TCP    127.0.0.1:45678        127.0.0.1:3000         ESTABLISHED     9001\r\n" +
	"  TCP    [::]:22                [::]:0                 LISTENING       801\r\n"

func TestParseListenTableLinux(t *testing.T) {
	t.Parallel()

	table := parseListenTable(ssSample, "linux")
	if got := table["4242"]; !reflect.DeepEqual(got, []string{"3000", "3000"}) {
		t.Fatalf("pid 4242 ports = %v, want [3000 3000]", got)
	}
	if got := table["801"]; !reflect.DeepEqual(got, []string{"22"}) {
		t.Fatalf("pid 801 ports = %v, want [22]", got)
	}
	// Established connections and non-listening sockets must not count.
	if _, ok := table["9001"]; ok {
		t.Fatal("pid 9001 (ESTAB) should not appear")
	}
	if _, ok := table["612"]; ok {
		t.Fatal("pid 612 (UNCONN udp) should not appear")
	}
}

func TestParseListenTableWindows(t *testing.T) {
	t.Parallel()

	table := parseListenTable(netstatSample, "windows")
	if got := table["4242"]; !reflect.DeepEqual(got, []string{"3000"}) {
		t.Fatalf("pid 4242 ports = %v, want [3000]", got)
	}
	if got := table["801"]; !reflect.DeepEqual(got, []string{"22"}) {
		t.Fatalf("pid 801 ports = %v, want [22]", got)
	}
	if _, ok := table["9001"]; ok {
		t.Fatal("pid 9001 (ESTABLISHED) should not appear")
	}
}

func TestParseListenTableUnknownPlatform(t *testing.T) {
	t.Parallel()

	if table := parseListenTable(ssSample, "plan9"); len(table) != 0 {
		t.Fatalf("expected empty table, got %v", table)
	}
}

func TestPortOf(t *testing.T) {
	t.Parallel()

	cases := []struct {
		tok  string
		port string
		ok   bool
	}{
		{"0.0.0.0:3000", "3000", true},
		{"[::]:80", "80", true},
		{"127.0.0.1:abc", "", false},
		{"noport", "", false},
		{"trailing:", "", false},
	}
	for _, tc := range cases {
		port, ok := portOf(tc.tok)
		if port != tc.port || ok != tc.ok {
			t.Fatalf("portOf(%q) = (%q, %v), want (%q, %v)", tc.tok, port, ok, tc.port, tc.ok)
		}
	}
}
