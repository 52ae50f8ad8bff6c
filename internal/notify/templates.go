package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
)

const DefaultRejectionReason = "Documentação ilegível ou inválida."

const (
	approvalSubject  = "Bem-vinda à Comunidade MAF! Seu acesso foi aprovado 🎉"
	rejectionSubject = "Atualização sobre sua solicitação de acesso"
)

var approvalTemplate = template.Must(template.New("approval").Parse(`<!DOCTYPE html>
<html lang="pt-BR">
<body style="font-family: Arial, sans-serif; color: #333;">
  <h1>Olá, {{.Name}}!</h1>
  <p>Temos uma ótima notícia: sua documentação foi aprovada e seu acesso à Comunidade MAF está liberado.</p>
  <p>Agora você já pode participar do feed, acessar os materiais exclusivos e se conectar com outras profissionais.</p>
  <p><a href="{{.Link}}" style="background: #b8860b; color: #fff; padding: 12px 24px; text-decoration: none; border-radius: 6px;">Acessar a comunidade</a></p>
  <p>Seja muito bem-vinda!<br>Equipe Comunidade MAF</p>
</body>
</html>`))

var rejectionTemplate = template.Must(template.New("rejection").Parse(`<!DOCTYPE html>
<html lang="pt-BR">
<body style="font-family: Arial, sans-serif; color: #333;">
  <h1>Olá, {{.Name}}.</h1>
  <p>Analisamos a documentação enviada e, infelizmente, não foi possível aprovar sua solicitação de acesso neste momento.</p>
  <p><strong>Motivo:</strong> {{.Reason}}</p>
  <p>Você pode enviar um novo certificado a qualquer momento:</p>
  <p><a href="{{.Link}}" style="background: #b8860b; color: #fff; padding: 12px 24px; text-decoration: none; border-radius: 6px;">Reenviar documentação</a></p>
  <p>Qualquer dúvida, estamos à disposição.<br>Equipe Comunidade MAF</p>
</body>
</html>`))

// Email is a rendered message ready for a Mailer.
type Email struct {
	To      string
	Subject string
	HTML    string
}

type templateData struct {
	Name   string
	Reason string
	Link   string
}

// Render builds the email for n. appURL is the public app base URL.
func Render(n Notification, appURL string) (Email, error) {
	base := strings.TrimRight(appURL, "/")
	data := templateData{Name: displayName(n.Name)}

	var (
		tmpl    *template.Template
		subject string
	)
	switch n.Kind {
	case KindApproved:
		tmpl, subject = approvalTemplate, approvalSubject
		data.Link = base + "/login"
	case KindRejected:
		tmpl, subject = rejectionTemplate, rejectionSubject
		data.Link = base + "/onboarding"
		data.Reason = strings.TrimSpace(n.Reason)
		if data.Reason == "" {
			data.Reason = DefaultRejectionReason
		}
	default:
		return Email{}, fmt.Errorf("unknown notification kind %q", n.Kind)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return Email{}, fmt.Errorf("render %s email: %w", n.Kind, err)
	}
	return Email{To: n.Email, Subject: subject, HTML: buf.String()}, nil
}

func displayName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "Usuária"
	}
	return name
}
