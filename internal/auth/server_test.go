package auth

import (
	"context"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/retrowfc-project/retrowfc/internal/config"
	"github.com/retrowfc-project/retrowfc/internal/events"
	"github.com/retrowfc-project/retrowfc/internal/session"
	"github.com/retrowfc-project/retrowfc/internal/store"
)

// fakeRecords is an in-memory Records stub for handler tests.
type fakeRecords struct {
	consoles map[string]*store.Console
	bans     map[string]*store.Ban
	logins   []*store.LoginRecord
	fail     bool
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{
		consoles: make(map[string]*store.Console),
		bans:     make(map[string]*store.Ban),
	}
}

func banKey(t store.BanType, identifier string) string {
	return string(t) + "|" + identifier
}

func (f *fakeRecords) ConsoleByMAC(_ context.Context, mac string) (*store.Console, error) {
	if f.fail {
		return nil, context.DeadlineExceeded
	}
	c, ok := f.consoles[mac]
	if !ok {
		return nil, store.ErrNotFound
	}
	return c, nil
}

func (f *fakeRecords) UpsertConsole(_ context.Context, c *store.Console) error {
	f.consoles[c.MACAddress] = c
	return nil
}

func (f *fakeRecords) TouchConsole(_ context.Context, mac string, at time.Time) error {
	return nil
}

func (f *fakeRecords) ProfileByID(_ context.Context, id uint32) (*store.Profile, error) {
	return nil, store.ErrNotFound
}

func (f *fakeRecords) ProfileByUser(_ context.Context, userID, gameID string) (*store.Profile, error) {
	return nil, store.ErrNotFound
}

func (f *fakeRecords) CreateProfile(_ context.Context, p *store.Profile) (*store.Profile, error) {
	return p, nil
}

func (f *fakeRecords) ActiveBan(_ context.Context, t store.BanType, identifier, gameID string) (*store.Ban, error) {
	if f.fail {
		return nil, context.DeadlineExceeded
	}
	if b, ok := f.bans[banKey(t, identifier)]; ok {
		return b, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeRecords) RecordLogin(_ context.Context, rec *store.LoginRecord) error {
	f.logins = append(f.logins, rec)
	return nil
}

func (f *fakeRecords) Close() error { return nil }

func newTestServer(records store.Records) (*Server, *session.Store) {
	cfg := config.DefaultConfig()
	sessions := session.NewStore(session.Options{})
	srv := NewServer(cfg, records, sessions, events.NewBus())
	return srv, sessions
}

func postForm(t *testing.T, srv *Server, fields map[string]string) map[string]string {
	t.Helper()

	form := url.Values{}
	for k, v := range fields {
		form.Set(k, EncodeField(v))
	}

	req := httptest.NewRequest("POST", AuthPath, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	out := make(map[string]string)
	for _, pair := range strings.Split(rec.Body.String(), "&") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			t.Fatalf("malformed response pair %q", pair)
		}
		val, err := DecodeField(kv[1])
		if err != nil {
			t.Fatalf("undecodable response value for %s: %v", kv[0], err)
		}
		out[kv[0]] = val
	}
	return out
}

func TestLoginIssuesTokenAndPending(t *testing.T) {
	t.Parallel()

	records := newFakeRecords()
	srv, sessions := newTestServer(records)

	resp := postForm(t, srv, map[string]string{
		"action": "login",
		"userid": "497602943",
		"gsbrcd": "ADAJ7",
		"macadr": "0009bf112233",
		"gamecd": "ADAJ",
	})

	if resp["returncd"] != ReturnLogin {
		t.Fatalf("returncd = %s, want %s", resp["returncd"], ReturnLogin)
	}
	if !strings.HasPrefix(resp["token"], tokenPrefix) {
		t.Fatalf("token %q missing prefix", resp["token"])
	}
	if len(resp["challenge"]) != 10 {
		t.Fatalf("challenge %q has wrong length", resp["challenge"])
	}
	if resp["svcport"] == "" || resp["svchost"] == "" {
		t.Fatal("response missing presence redirect target")
	}

	p, ok := sessions.TakePending(resp["token"])
	if !ok {
		t.Fatal("no pending entry written for token")
	}
	if p.Challenge != resp["challenge"] || p.UserID != "497602943" || p.GameID != "ADAJ" {
		t.Fatalf("pending entry mismatch: %+v", p)
	}

	if _, ok := records.consoles["0009bf112233"]; !ok {
		t.Fatal("console not registered on login")
	}
	if len(records.logins) != 1 {
		t.Fatalf("login audit entries = %d, want 1", len(records.logins))
	}
}

func TestLoginRejectsBannedMAC(t *testing.T) {
	t.Parallel()

	records := newFakeRecords()
	records.bans[banKey(store.BanMAC, "0009bf112233")] = &store.Ban{
		Type: store.BanMAC, Identifier: "0009bf112233",
	}
	srv, sessions := newTestServer(records)

	resp := postForm(t, srv, map[string]string{
		"action": "login",
		"userid": "497602943",
		"gsbrcd": "ADAJ7",
		"macadr": "0009bf112233",
	})

	if resp["returncd"] != ReturnBanned {
		t.Fatalf("returncd = %s, want %s", resp["returncd"], ReturnBanned)
	}
	if resp["token"] != "" {
		t.Fatal("banned client must not receive a token")
	}
	if sessions.Count() != 0 {
		t.Fatal("banned client must not create sessions")
	}
}

func TestLoginRejectsBannedUser(t *testing.T) {
	t.Parallel()

	records := newFakeRecords()
	records.bans[banKey(store.BanUser, "badactor")] = &store.Ban{
		Type: store.BanUser, Identifier: "badactor",
	}
	srv, _ := newTestServer(records)

	resp := postForm(t, srv, map[string]string{
		"action": "login",
		"userid": "badactor",
		"gsbrcd": "ADAJ7",
		"macadr": "0009bf445566",
	})

	if resp["returncd"] != ReturnBanned {
		t.Fatalf("returncd = %s, want %s", resp["returncd"], ReturnBanned)
	}
}

func TestLoginMissingFields(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(newFakeRecords())

	resp := postForm(t, srv, map[string]string{
		"action": "login",
		"userid": "497602943",
	})

	if resp["returncd"] != ReturnBadRequest {
		t.Fatalf("returncd = %s, want %s", resp["returncd"], ReturnBadRequest)
	}
}

func TestLoginStoreUnavailable(t *testing.T) {
	t.Parallel()

	records := newFakeRecords()
	records.fail = true
	srv, _ := newTestServer(records)

	resp := postForm(t, srv, map[string]string{
		"action": "login",
		"userid": "497602943",
		"gsbrcd": "ADAJ7",
		"macadr": "0009bf112233",
	})

	if resp["returncd"] != ReturnUnavailable {
		t.Fatalf("returncd = %s, want %s", resp["returncd"], ReturnUnavailable)
	}
}

func TestAllowListMode(t *testing.T) {
	t.Parallel()

	records := newFakeRecords()
	records.consoles["0009bf112233"] = &store.Console{
		MACAddress: "0009bf112233", Enabled: true,
	}
	records.consoles["0009bfdead00"] = &store.Console{
		MACAddress: "0009bfdead00", Enabled: false,
	}

	cfg := config.DefaultConfig()
	cfg.ServiceData.AllowListOnly = true
	sessions := session.NewStore(session.Options{})
	srv := NewServer(cfg, records, sessions, events.NewBus())

	known := postForm(t, srv, map[string]string{
		"action": "login", "userid": "u1", "gsbrcd": "ADAJ7", "macadr": "0009bf112233",
	})
	if known["returncd"] != ReturnLogin {
		t.Fatalf("enabled console returncd = %s, want %s", known["returncd"], ReturnLogin)
	}

	disabled := postForm(t, srv, map[string]string{
		"action": "login", "userid": "u2", "gsbrcd": "ADAJ7", "macadr": "0009bfdead00",
	})
	if disabled["returncd"] != ReturnBanned {
		t.Fatalf("disabled console returncd = %s, want %s", disabled["returncd"], ReturnBanned)
	}

	unknown := postForm(t, srv, map[string]string{
		"action": "login", "userid": "u3", "gsbrcd": "ADAJ7", "macadr": "0009bf999999",
	})
	if unknown["returncd"] != ReturnBanned {
		t.Fatalf("unknown console returncd = %s, want %s", unknown["returncd"], ReturnBanned)
	}
}

func TestGameWhitelist(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.ServiceData.GameWhitelist = []string{"ADAJ"}
	sessions := session.NewStore(session.Options{})
	srv := NewServer(cfg, newFakeRecords(), sessions, events.NewBus())

	resp := postForm(t, srv, map[string]string{
		"action": "login", "userid": "u1", "gsbrcd": "RMCJ7", "macadr": "0009bf112233",
	})
	if resp["returncd"] != ReturnBanned {
		t.Fatalf("non-whitelisted game returncd = %s, want %s", resp["returncd"], ReturnBanned)
	}
}

func TestUnknownAction(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(newFakeRecords())
	resp := postForm(t, srv, map[string]string{"action": "format_c"})
	if resp["returncd"] != ReturnBadRequest {
		t.Fatalf("returncd = %s, want %s", resp["returncd"], ReturnBadRequest)
	}
}

func TestSvcLoc(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(newFakeRecords())
	resp := postForm(t, srv, map[string]string{"action": "svcloc"})
	if resp["returncd"] != ReturnSvcLoc {
		t.Fatalf("returncd = %s, want %s", resp["returncd"], ReturnSvcLoc)
	}
	if resp["statusdata"] != "Y" {
		t.Fatalf("statusdata = %q, want Y", resp["statusdata"])
	}
}

func TestFieldCodecRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []string{"", "login", "0009bf112233", "ADAJ7jqNcy", "\x01\xfe binary"}
	for _, c := range cases {
		enc := EncodeField(c)
		if strings.ContainsAny(enc, "+/=") {
			t.Fatalf("encoded %q contains raw base64 characters: %q", c, enc)
		}
		dec, err := DecodeField(enc)
		if err != nil {
			t.Fatalf("decode %q: %v", enc, err)
		}
		if dec != c {
			t.Fatalf("round trip %q -> %q", c, dec)
		}
	}
}
