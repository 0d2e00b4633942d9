// internal/lti/deeplink/form.go
package deeplink

import (
	"bytes"
	"html/template"
)

// The response travels back by browser form POST, so the handler serves a
// self-submitting page instead of redirecting.
var formTmpl = template.Must(template.New("deeplink").Parse(`<!DOCTYPE html>
<html>
<head><title>Returning to course…</title></head>
<body onload="document.forms[0].submit()">
<form action="{{.ReturnURL}}" method="POST">
<input type="hidden" name="JWT" value="{{.JWT}}">
<noscript><button type="submit">Continue</button></noscript>
</form>
</body>
</html>
`))

// AutoSubmitPage renders the HTML page that posts the response to the
// platform's return URL.
func AutoSubmitPage(res Response) ([]byte, error) {
	var buf bytes.Buffer
	if err := formTmpl.Execute(&buf, res); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
