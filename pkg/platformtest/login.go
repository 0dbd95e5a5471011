package platformtest

import (
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strings"
)

const (
	brokerCallbackURL = "https://" + BrokerHost + "/broker/cas/callback"
	targetCallbackURL = "https://" + TargetHost + "/sso/callback"
	providerLoginPath = "/cas/login"
)

// RejectWith makes every login post fail with a page containing text
func (p *Platform) RejectWith(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rejection = text
}

// OmitHiddenFields removes lt and execution from the login form
func (p *Platform) OmitHiddenFields() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitHidden = true
}

// SetBrokerPage replaces the broker landing page body
func (p *Platform) SetBrokerPage(body string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.brokerBody = body
}

// StopAtBroker makes the broker show a confirmation page after CAS instead
// of redirecting back to the target.
func (p *Platform) StopAtBroker() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.brokerStops = true
}

// SetSessionDelay makes the target answer n root visits without a session
// cookie after the SSO callback.
func (p *Platform) SetSessionDelay(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessionDelay = n
}

// LoginForms returns every form posted to the identity provider
func (p *Platform) LoginForms() []url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]url.Values, len(p.forms))
	copy(out, p.forms)
	return out
}

// DecryptedPasswords returns the plaintext of every posted password
func (p *Platform) DecryptedPasswords() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.decrypted...)
}

// AddSession registers a session cookie value as logged in
func (p *Platform) AddSession(value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[value] = true
}

// ExpireSessions logs every session out
func (p *Platform) ExpireSessions() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions = make(map[string]bool)
}

func (p *Platform) hasSession(r *http.Request) bool {
	c, err := r.Cookie("session")
	if err != nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessions[c.Value]
}

func (p *Platform) targetRouter() http.Handler {
	r := newRouter()
	r.HandleFunc("/", p.targetRoot).Methods(http.MethodGet)
	r.HandleFunc("/sso/callback", p.targetCallback).Methods(http.MethodGet)
	p.apiRoutes(r)
	return r
}

func (p *Platform) targetRoot(w http.ResponseWriter, r *http.Request) {
	p.TargetVisits.Add(1)
	if p.hasSession(r) {
		writeHTML(w, http.StatusOK, "<html><title>QZ</title><body>workspaces</body></html>")
		return
	}

	if c, err := r.Cookie("pending"); err == nil {
		p.mu.Lock()
		visits, ok := p.pending[c.Value]
		if ok {
			visits++
			p.pending[c.Value] = visits
		}
		delay := p.sessionDelay
		var session string
		if ok && visits > delay {
			delete(p.pending, c.Value)
			session = p.next("sess")
			p.sessions[session] = true
		}
		p.mu.Unlock()

		if ok {
			if session != "" {
				http.SetCookie(w, &http.Cookie{Name: "session", Value: session, Path: "/", HttpOnly: true})
				http.SetCookie(w, &http.Cookie{Name: "qz_lang", Value: "zh", Path: "/"})
				http.SetCookie(w, &http.Cookie{Name: "pending", Value: "", Path: "/", MaxAge: -1})
				writeHTML(w, http.StatusOK, "<html><title>QZ</title><body>workspaces</body></html>")
				return
			}
			writeHTML(w, http.StatusOK, "<html><body>signing in</body></html>")
			return
		}
	}

	http.Redirect(w, r, "https://"+BrokerHost+"/login?service="+url.QueryEscape(targetCallbackURL), http.StatusFound)
}

func (p *Platform) targetCallback(w http.ResponseWriter, r *http.Request) {
	if !p.consumeTicket(r.URL.Query().Get("ticket")) {
		http.Error(w, "invalid ticket", http.StatusForbidden)
		return
	}
	p.mu.Lock()
	marker := p.next("pending")
	p.pending[marker] = 0
	p.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: "pending", Value: marker, Path: "/"})
	http.Redirect(w, r, "/", http.StatusFound)
}

func (p *Platform) brokerRouter() http.Handler {
	r := newRouter()
	r.HandleFunc("/login", p.brokerLogin).Methods(http.MethodGet)
	r.HandleFunc("/broker/cas/login", p.brokerCASEntry).Methods(http.MethodGet)
	r.HandleFunc("/broker/cas/callback", p.brokerCallback).Methods(http.MethodGet)
	return r
}

func (p *Platform) brokerLogin(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{Name: SharedCookie, Value: "1", Domain: "example.edu", Path: "/"})
	http.SetCookie(w, &http.Cookie{Name: "broker_sid", Value: "b-1", Path: "/"})

	if c, err := r.Cookie("broker_tgt"); err == nil && c.Value != "" {
		p.mu.Lock()
		ticket := p.next("BT")
		p.tickets[ticket] = c.Value
		p.mu.Unlock()
		http.Redirect(w, r, targetCallbackURL+"?ticket="+ticket, http.StatusFound)
		return
	}

	p.mu.Lock()
	body := p.brokerBody
	p.mu.Unlock()
	if body == "" {
		body = `<html><head><script>window.__SSO__ = {"appName":"qz","loginUrl":"\/broker\/cas\/login?client=qz"};</script></head><body></body></html>`
	}
	writeHTML(w, http.StatusOK, body)
}

func (p *Platform) brokerCASEntry(w http.ResponseWriter, r *http.Request) {
	target := "https://" + ProviderHost + providerLoginPath + "?service=" + url.QueryEscape(brokerCallbackURL)
	http.Redirect(w, r, target, http.StatusFound)
}

func (p *Platform) brokerCallback(w http.ResponseWriter, r *http.Request) {
	ticket := r.URL.Query().Get("ticket")
	p.mu.Lock()
	user, ok := p.tickets[ticket]
	delete(p.tickets, ticket)
	stops := p.brokerStops
	var next string
	if ok {
		next = p.next("BT")
		p.tickets[next] = user
	}
	p.mu.Unlock()
	if !ok {
		http.Error(w, "invalid ticket", http.StatusForbidden)
		return
	}

	http.SetCookie(w, &http.Cookie{Name: "broker_tgt", Value: user, Path: "/"})
	if stops {
		writeHTML(w, http.StatusOK, "<html><body>登录成功</body></html>")
		return
	}
	http.Redirect(w, r, targetCallbackURL+"?ticket="+next, http.StatusFound)
}

func (p *Platform) consumeTicket(ticket string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.tickets[ticket]
	delete(p.tickets, ticket)
	return ok
}

func (p *Platform) providerRouter() http.Handler {
	r := newRouter()
	r.HandleFunc(providerLoginPath, p.providerForm).Methods(http.MethodGet)
	r.HandleFunc(providerLoginPath, p.providerSubmit).Methods(http.MethodPost)
	return r
}

func (p *Platform) providerForm(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: "cas-1", Path: "/"})
	writeHTML(w, http.StatusOK, p.loginPage(""))
}

func (p *Platform) loginPage(message string) string {
	p.mu.Lock()
	omit := p.omitHidden
	p.mu.Unlock()

	var sb strings.Builder
	sb.WriteString(`<html><body><form id="fm1" method="post">`)
	sb.WriteString(`<input id="username" name="username" type="text"/>`)
	sb.WriteString(`<input id="password" name="password" type="password"/>`)
	if !omit {
		fmt.Fprintf(&sb, `<input type="hidden" name="lt" value="%s"/>`, LT)
		fmt.Fprintf(&sb, `<input type="hidden" name="execution" value="%s"/>`, Execution)
	}
	sb.WriteString(`<input type="hidden" name="_eventId" value="submit"/>`)
	if message != "" {
		fmt.Fprintf(&sb, `<div class="errors" id="msg">%s</div>`, html.EscapeString(message))
	}
	sb.WriteString(`</form></body></html>`)
	return sb.String()
}

func (p *Platform) providerSubmit(w http.ResponseWriter, r *http.Request) {
	p.LoginPosts.Add(1)
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	form := r.PostForm

	plain, err := p.private.Decrypt(form.Get("password"))
	if err != nil {
		plain = ""
	}

	p.mu.Lock()
	p.forms = append(p.forms, form)
	p.decrypted = append(p.decrypted, plain)
	rejection := p.rejection
	omit := p.omitHidden
	p.mu.Unlock()

	accepted := form.Get("username") == Username && plain == Password &&
		form.Get("encrypted") == "true" && form.Get("_eventId") == "submit"
	if !omit {
		accepted = accepted && form.Get("lt") == LT && form.Get("execution") == Execution
	}

	if rejection != "" || !accepted {
		if rejection == "" {
			rejection = "用户名或密码错误"
		}
		writeHTML(w, http.StatusOK, p.loginPage(rejection))
		return
	}

	service := r.URL.Query().Get("service")
	if service == "" {
		service = brokerCallbackURL
	}
	p.mu.Lock()
	ticket := p.next("ST")
	p.tickets[ticket] = form.Get("username")
	p.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: "CASTGC", Value: "TGT-1", Path: "/"})
	http.Redirect(w, r, service+"?ticket="+ticket, http.StatusFound)
}

func writeHTML(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprint(w, body)
}
