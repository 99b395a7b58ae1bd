package channel

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"text/template"

	"exam_dispatch_engine/internal/domain/notification"
)

// RenderedEmail is a reminder email ready for the wire.
type RenderedEmail struct {
	Subject  string
	BodyText string
	BodyHTML string
}

type reminderView struct {
	ExamTitle  string
	Name       string
	ClassLevel int
	ExamDate   string
	ExamDay    bool
}

var reminderSubject = template.Must(template.New("subject").Parse(
	`{{if .ExamDay}}Exam Today{{else}}Exam Reminder{{end}} - {{.ExamTitle}}`))

var reminderText = template.Must(template.New("text").Parse(`Dear {{.Name}},

{{if .ExamDay}}Your examination is scheduled for today.{{else}}This is a reminder that your examination is scheduled soon.{{end}}

Examination Details:
- Class: {{.ClassLevel}}
- Date: {{.ExamDate}}

Important Instructions:
1. Ensure stable internet connection
2. Use a laptop or computer for best experience
3. Keep your registered mobile handy for OTP verification
4. Start exam on time - late entry not allowed

Best of luck!
`))

var reminderHTML = htmltemplate.Must(htmltemplate.New("html").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.ExamTitle}}</title></head>
<body>
<h2>{{.ExamTitle}}</h2>
<p>Dear {{.Name}},</p>
<p>{{if .ExamDay}}Your examination is scheduled for today.{{else}}This is a reminder that your examination is scheduled soon.{{end}}</p>
<ul>
<li>Class: {{.ClassLevel}}</li>
<li>Date: {{.ExamDate}}</li>
</ul>
<p>Best of luck!</p>
</body>
</html>
`))

// RenderReminderEmail fills the exam reminder templates with the dispatch parameters.
func RenderReminderEmail(examTitle string, params notification.ReminderParams) (RenderedEmail, error) {
	view := reminderView{
		ExamTitle:  examTitle,
		Name:       params.Name,
		ClassLevel: params.ClassLevel,
		ExamDate:   params.ExamDate.Format("02 Jan 2006"),
		ExamDay:    params.Type == notification.TypeExamDay,
	}

	var subject, text, html bytes.Buffer
	if err := reminderSubject.Execute(&subject, view); err != nil {
		return RenderedEmail{}, fmt.Errorf("render subject: %w", err)
	}
	if err := reminderText.Execute(&text, view); err != nil {
		return RenderedEmail{}, fmt.Errorf("render text body: %w", err)
	}
	if err := reminderHTML.Execute(&html, view); err != nil {
		return RenderedEmail{}, fmt.Errorf("render html body: %w", err)
	}
	return RenderedEmail{Subject: subject.String(), BodyText: text.String(), BodyHTML: html.String()}, nil
}
