package document

import (
	log "github.com/sirupsen/logrus"

	"donation-service/internal/domain"
)

// Renderer produces the donation application document for a confirmed snapshot.
type Renderer struct {
	engine    Engine
	path      string
	formatter Formatter
}

func NewRenderer(engine Engine, path string, formatter Formatter) *Renderer {
	return &Renderer{engine: engine, path: path, formatter: formatter}
}

func (r *Renderer) Formatter() Formatter {
	return r.formatter
}

func (r *Renderer) Render(s domain.FormSnapshot) (domain.GeneratedDocument, error) {
	data, err := r.engine.Render(r.path, r.formatter.Context(s))
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"submission_id": s.ID,
			"template":      r.path,
		}).Error("Failed to render donation document")
		return domain.GeneratedDocument{}, err
	}
	return domain.GeneratedDocument{
		Filename:    domain.DocumentFilename,
		ContentType: domain.DocumentContentType,
		Data:        data,
	}, nil
}

// Check renders the template once with empty values so a broken asset is reported at startup.
func (r *Renderer) Check() error {
	empty := make(map[string]string, len(Placeholders))
	for _, name := range Placeholders {
		empty[name] = ""
	}
	_, err := r.engine.Render(r.path, empty)
	return err
}
