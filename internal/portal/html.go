package portal

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// loginForm is the parsed sign-in form.
type loginForm struct {
	Action string
	Method string
	Fields map[string]string
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// walk visits every element node until fn returns false.
func walk(n *html.Node, fn func(*html.Node) bool) bool {
	if n.Type == html.ElementNode && !fn(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, fn) {
			return false
		}
	}
	return true
}

// parseLoginForm returns the form with id kc-form-login, or the first form on the page.
func parseLoginForm(body []byte) (*loginForm, bool) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, false
	}

	var first, login *html.Node
	walk(doc, func(n *html.Node) bool {
		if n.Data != "form" {
			return true
		}
		if first == nil {
			first = n
		}
		if id, _ := attr(n, "id"); id == "kc-form-login" {
			login = n
			return false
		}
		return true
	})
	form := login
	if form == nil {
		form = first
	}
	if form == nil {
		return nil, false
	}

	action, _ := attr(form, "action")
	method, ok := attr(form, "method")
	if !ok || method == "" {
		method = "POST"
	}
	lf := &loginForm{Action: action, Method: strings.ToUpper(method), Fields: map[string]string{}}
	walk(form, func(n *html.Node) bool {
		if n.Data != "input" {
			return true
		}
		name, ok := attr(n, "name")
		if !ok || name == "" {
			return true
		}
		val, _ := attr(n, "value")
		lf.Fields[name] = val
		return true
	})
	return lf, true
}

// hasLoginForm reports whether the page still shows the sign-on form.
func hasLoginForm(body []byte) bool {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return false
	}
	found := false
	walk(doc, func(n *html.Node) bool {
		if id, _ := attr(n, "id"); n.Data == "form" && id == "kc-form-login" {
			found = true
			return false
		}
		return true
	})
	return found
}

// parseCSRFToken reads <meta name="_csrf" content="...">.
func parseCSRFToken(body []byte) string {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	var token string
	walk(doc, func(n *html.Node) bool {
		if n.Data != "meta" {
			return true
		}
		if name, _ := attr(n, "name"); name == "_csrf" {
			token, _ = attr(n, "content")
			return false
		}
		return true
	})
	return token
}

// parseBodyContractID reads the data-contract-id attribute of <body>.
func parseBodyContractID(body []byte) string {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	var id string
	walk(doc, func(n *html.Node) bool {
		if n.Data != "body" {
			return true
		}
		id, _ = attr(n, "data-contract-id")
		return false
	})
	return strings.TrimSpace(id)
}
