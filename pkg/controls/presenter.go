// Package controls renders the loader, manual trigger, end-of-results message
// and viewport sentinel around a product grid. It holds no pagination logic;
// the scroll session drives it.
package controls

import (
	"errors"

	"github.com/PuerkitoBio/goquery"
	"github.com/Sternrassler/infinite-scroll/pkg/settings"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Class names and ids of created elements.
const (
	ClassFooter     = "infinite-scroll-controls"
	ClassLoader     = "infinite-scroll-loader"
	ClassButton     = "infinite-scroll-load-more"
	ClassMessage    = "infinite-scroll-end-message"
	ClassSentinel   = "infinite-scroll-sentinel"
	SpinnerStyleID  = "infinite-scroll-spinner-style"
	spinnerKeyframe = "@keyframes spin { to { transform: rotate(360deg); } }"
)

// ErrDetachedGrid is returned by Mount when the grid has no parent element to
// insert the controls into.
var ErrDetachedGrid = errors.New("grid has no parent element")

const (
	footerStyle  = "text-align: center; padding: 40px 20px; margin-top: 40px;"
	loaderStyle  = "display: none; align-items: center; justify-content: center; gap: 10px;"
	spinnerStyle = "width: 40px; height: 40px; border: 4px solid rgba(0,0,0,0.1); border-left-color: #000; border-radius: 50%; animation: spin 1s linear infinite;"
	buttonStyle  = "padding: 12px 24px; background: #000; color: #fff; border: none; border-radius: 4px; font-size: 16px; cursor: pointer; transition: opacity 0.2s;"
	messageStyle = "display: none; font-size: 16px; color: #666;"

	// The sentinel must keep a real box inside arbitrary flex and grid
	// parents, hence the forced geometry.
	sentinelStyle = "display: block !important; height: 20px !important; min-height: 20px !important; " +
		"width: 100% !important; flex: 0 0 20px !important; grid-column: 1 / -1 !important; " +
		"pointer-events: none !important; visibility: visible !important; opacity: 1 !important; " +
		"background: transparent !important; margin: 0 !important; padding: 0 !important;"
)

// Presenter owns the control elements for one detection cycle.
type Presenter struct {
	doc      *goquery.Document
	grid     *html.Node
	settings settings.Settings

	sentinel *goquery.Selection
	footer   *goquery.Selection
	loader   *goquery.Selection
	button   *goquery.Selection
	message  *goquery.Selection
	busy     bool
}

// New creates a presenter for grid. Nothing is inserted until Mount.
func New(doc *goquery.Document, grid *goquery.Selection, s settings.Settings) *Presenter {
	p := &Presenter{doc: doc, settings: s}
	if grid != nil && grid.Length() > 0 {
		p.grid = grid.Nodes[0]
	}
	return p
}

// Mount inserts the sentinel directly after the grid and the footer directly
// after the sentinel. Mounting twice is a no-op.
func (p *Presenter) Mount() error {
	if p.Mounted() {
		return nil
	}
	if p.doc == nil || p.grid == nil || p.grid.Parent == nil {
		return ErrDetachedGrid
	}

	p.ensureSpinnerStyle()

	sentinel := element(atom.Div, "class", ClassSentinel, "aria-hidden", "true", "style", sentinelStyle)
	footer := element(atom.Div, "class", ClassFooter, "style", footerStyle)

	var button, message *html.Node
	if p.settings.ManualTriggerEnabled {
		button = element(atom.Button, "type", "button", "class", ClassButton+" button", "style", buttonStyle)
		footer.AppendChild(button)
	}
	if p.settings.ShowExhaustedMessage {
		message = element(atom.Div, "class", ClassMessage, "style", messageStyle)
		footer.AppendChild(message)
	}

	loader := element(atom.Div, "class", ClassLoader, "style", loaderStyle)
	loader.AppendChild(element(atom.Div, "class", "spinner", "style", spinnerStyle))
	footer.AppendChild(loader)

	parent := p.grid.Parent
	parent.InsertBefore(sentinel, p.grid.NextSibling)
	parent.InsertBefore(footer, sentinel.NextSibling)

	p.sentinel = p.doc.FindNodes(sentinel)
	p.footer = p.doc.FindNodes(footer)
	p.loader = p.doc.FindNodes(loader)
	if text := p.settings.LoaderText(); text != "" {
		p.loader.AppendHtml("<span></span>")
		p.loader.ChildrenFiltered("span").SetText(text)
	}
	if button != nil {
		p.button = p.doc.FindNodes(button).SetText(p.settings.ManualTriggerLabel)
	}
	if message != nil {
		p.message = p.doc.FindNodes(message).SetText(p.settings.ExhaustedLabel)
	}
	p.busy = false

	return nil
}

// Mounted reports whether controls are currently in the document.
func (p *Presenter) Mounted() bool {
	return p.sentinel != nil
}

// Teardown removes every element created by Mount.
func (p *Presenter) Teardown() {
	if p.sentinel != nil {
		p.sentinel.Remove()
	}
	if p.footer != nil {
		p.footer.Remove()
	}
	p.sentinel, p.footer, p.loader, p.button, p.message = nil, nil, nil, nil, nil
	p.busy = false
}

// ShowLoader reveals the spinner and puts the manual trigger in its busy state.
func (p *Presenter) ShowLoader() {
	if p.loader != nil {
		setStyleProperty(p.loader, "display", "flex")
	}
	if p.button != nil {
		p.button.SetAttr("disabled", "").SetText(p.settings.LoadingLabel)
	}
	p.busy = true
}

// HideLoader hides the spinner and re-enables the manual trigger.
func (p *Presenter) HideLoader() {
	if p.loader != nil {
		setStyleProperty(p.loader, "display", "none")
	}
	if p.button != nil {
		p.button.RemoveAttr("disabled").SetText(p.settings.ManualTriggerLabel)
	}
	p.busy = false
}

// ShowError relabels the manual trigger with the error label. The caller
// restores the idle label with RestoreIdleLabel once the display delay ends.
func (p *Presenter) ShowError() {
	if p.button != nil && !p.busy {
		p.button.SetText(p.settings.ErrorLabel)
	}
}

// RestoreIdleLabel puts the idle label back unless a load is in progress.
func (p *Presenter) RestoreIdleLabel() {
	if p.button != nil && !p.busy {
		p.button.SetText(p.settings.ManualTriggerLabel)
	}
}

// ShowExhausted reveals the end-of-results message and hides and disables
// the manual trigger.
func (p *Presenter) ShowExhausted() {
	if p.loader != nil {
		setStyleProperty(p.loader, "display", "none")
	}
	if p.message != nil {
		setStyleProperty(p.message, "display", "block")
	}
	if p.button != nil {
		p.button.SetAttr("disabled", "")
		setStyleProperty(p.button, "display", "none")
	}
	p.busy = false
}

// HidePagination hides the theme's own pagination block.
func HidePagination(pagination *goquery.Selection) {
	if pagination == nil {
		return
	}
	setStyleProperty(pagination, "display", "none")
}

// Sentinel returns the sentinel element, or an empty selection when unmounted.
func (p *Presenter) Sentinel() *goquery.Selection {
	return p.orEmpty(p.sentinel)
}

// Button returns the manual trigger, or an empty selection when disabled
// or unmounted.
func (p *Presenter) Button() *goquery.Selection {
	return p.orEmpty(p.button)
}

// LoaderVisible reports whether the spinner is shown.
func (p *Presenter) LoaderVisible() bool {
	return p.loader != nil && styleProperty(p.loader, "display") != "none"
}

// ButtonDisabled reports whether the manual trigger is disabled. A missing
// trigger counts as disabled.
func (p *Presenter) ButtonDisabled() bool {
	if p.button == nil {
		return true
	}
	_, disabled := p.button.Attr("disabled")
	return disabled
}

// ButtonLabel returns the manual trigger's current label.
func (p *Presenter) ButtonLabel() string {
	if p.button == nil {
		return ""
	}
	return p.button.Text()
}

// ExhaustedVisible reports whether the end-of-results message is shown.
func (p *Presenter) ExhaustedVisible() bool {
	return p.message != nil && styleProperty(p.message, "display") != "none"
}

func (p *Presenter) orEmpty(sel *goquery.Selection) *goquery.Selection {
	if sel != nil {
		return sel
	}
	if p.doc == nil {
		return &goquery.Selection{}
	}
	return p.doc.Selection.Slice(0, 0)
}

func (p *Presenter) ensureSpinnerStyle() {
	if p.doc.Find("#"+SpinnerStyleID).Length() > 0 {
		return
	}
	head := p.doc.Find("head").First()
	if head.Length() == 0 {
		return
	}
	style := element(atom.Style, "id", SpinnerStyleID)
	style.AppendChild(&html.Node{Type: html.TextNode, Data: spinnerKeyframe})
	head.AppendNodes(style)
}

// element builds a detached element from alternating attribute keys and values.
func element(a atom.Atom, kv ...string) *html.Node {
	n := &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String()}
	for i := 0; i+1 < len(kv); i += 2 {
		n.Attr = append(n.Attr, html.Attribute{Key: kv[i], Val: kv[i+1]})
	}
	return n
}
