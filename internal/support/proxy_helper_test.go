package support

import (
	"testing"

	"proxyfinder/internal/domain"
)

func TestParseTextToProxies(t *testing.T) {
	input := "1.1.1.1:80\r\ninvalid\n\n2.2.2.2:8080\n2.2.2.2:badport\n"

	parsed := ParseTextToProxies(input)
	if len(parsed) != 2 {
		t.Fatalf("ParseTextToProxies returned %d proxies, want 2", len(parsed))
	}

	if got := parsed[0].Key(); got != "1.1.1.1:80" {
		t.Fatalf("first proxy was %s, want 1.1.1.1:80", got)
	}
	if got := parsed[1].Key(); got != "2.2.2.2:8080" {
		t.Fatalf("second proxy was %s, want 2.2.2.2:8080", got)
	}
}

func TestFormatProxies(t *testing.T) {
	score := 0.75
	proxy := domain.Proxy{Host: "10.0.0.5", Port: 3128, Country: "US", Region: "Ohio", City: "Columbus", Score: &score}

	got := FormatProxies([]domain.Proxy{proxy, domain.NewProxy("10.0.0.6", 8080)}, "host:port country/region/city score")
	expected := "10.0.0.5:3128 US/Ohio/Columbus 0.75\n10.0.0.6:8080 // \n"

	if got != expected {
		t.Fatalf("FormatProxies returned %q, want %q", got, expected)
	}
}

func TestFindProxies(t *testing.T) {
	page := `<table>
<tr><td>51.158.68.133</td><td>8811</td><td>FR</td></tr>
<tr><td class="ip">51.158.68.133</td> <td class="port">8811</td></tr>
</table>
<pre>3.80.37.204:3128
10.0.0.1 : 8080
10.0.0.2:0
10.0.0.3:99999</pre>`

	got := FindProxies(page)
	want := []string{"51.158.68.133:8811", "3.80.37.204:3128", "10.0.0.1:8080"}
	if len(got) != len(want) {
		t.Fatalf("FindProxies returned %v, want %v", got, want)
	}
	for i, proxy := range got {
		if proxy.Key() != want[i] {
			t.Fatalf("proxy %d was %s, want %s", i, proxy, want[i])
		}
	}
}
