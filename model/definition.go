package model

// Route names an admin may declare. An action is reachable only when its route
// is declared on the admin.
const (
	RouteList                    = "list"
	RouteCreate                  = "create"
	RouteEdit                    = "edit"
	RouteDelete                  = "delete"
	RouteShow                    = "show"
	RouteBatch                   = "batch"
	RouteExport                  = "export"
	RouteHistory                 = "history"
	RouteHistoryViewRevision     = "history_view_revision"
	RouteHistoryCompareRevisions = "history_compare_revisions"
	RouteACL                     = "acl"
)

// AllRoutes lists every route an admin may declare, in declaration order.
var AllRoutes = []string{
	RouteList, RouteCreate, RouteEdit, RouteDelete, RouteShow, RouteBatch,
	RouteExport, RouteHistory, RouteHistoryViewRevision,
	RouteHistoryCompareRevisions, RouteACL,
}

// DefinitionFile is the root structure of a definition file. Each file
// declares the admins of one group.
type DefinitionFile struct {
	Group   string            `yaml:"group"   json:"group"`
	Version string            `yaml:"version" json:"version"`
	Admins  []AdminDefinition `yaml:"admins"  json:"admins"`

	// Checksum is computed at load time and not part of the YAML.
	Checksum string `yaml:"-" json:"-"`
	// SourceFile records the originating file path.
	SourceFile string `yaml:"-" json:"-"`
}

// AdminDefinition configures one modeled resource type.
type AdminDefinition struct {
	Code              string                  `yaml:"code"               json:"code"`
	Class             string                  `yaml:"class"              json:"class"`
	Label             string                  `yaml:"label"              json:"label"`
	Group             string                  `yaml:"-"                  json:"group"`
	IDParameter       string                  `yaml:"id_parameter"       json:"id_parameter,omitempty"`
	NameField         string                  `yaml:"name_field"         json:"name_field,omitempty"`
	TranslationDomain string                  `yaml:"translation_domain" json:"translation_domain,omitempty"`
	Parent            string                  `yaml:"parent"             json:"parent,omitempty"`
	ParentAssociation string                  `yaml:"parent_association" json:"parent_association,omitempty"`
	Routes            []string                `yaml:"routes"             json:"routes"`
	SupportsPreview   bool                    `yaml:"supports_preview"   json:"supports_preview,omitempty"`
	ACLEnabled        bool                    `yaml:"acl_enabled"        json:"acl_enabled,omitempty"`
	Audited           bool                    `yaml:"audited"            json:"audited,omitempty"`
	Abstract          bool                    `yaml:"abstract"           json:"abstract,omitempty"`
	Subclasses        []SubclassDefinition    `yaml:"subclasses"         json:"subclasses,omitempty"`
	ExportFormats     []string                `yaml:"export_formats"     json:"export_formats,omitempty"`
	ListModes         []string                `yaml:"list_modes"         json:"list_modes,omitempty"`
	PerPage           int                     `yaml:"per_page"           json:"per_page,omitempty"`
	Templates         map[string]string       `yaml:"templates"          json:"templates,omitempty"`
	Fields            []FieldDefinition       `yaml:"fields"             json:"fields"`
	ListFields        []ColumnDefinition      `yaml:"list_fields"        json:"list_fields,omitempty"`
	ShowFields        []ColumnDefinition      `yaml:"show_fields"        json:"show_fields,omitempty"`
	Filters           []FilterDefinition      `yaml:"filters"            json:"filters,omitempty"`
	BatchActions      []BatchActionDefinition `yaml:"batch_actions"      json:"batch_actions,omitempty"`
}

// HasRoute reports whether the admin declares the named route.
func (d *AdminDefinition) HasRoute(name string) bool {
	for _, r := range d.Routes {
		if r == name {
			return true
		}
	}
	return false
}

// SubclassDefinition names a concrete class of an admin's model.
type SubclassDefinition struct {
	Name  string `yaml:"name"  json:"name"`
	Class string `yaml:"class" json:"class"`
}

// BatchActionDefinition declares a batch action on an admin.
type BatchActionDefinition struct {
	Name              string `yaml:"name"               json:"name"`
	Label             string `yaml:"label"              json:"label"`
	AskConfirmation   *bool  `yaml:"ask_confirmation"   json:"ask_confirmation,omitempty"`
	Template          string `yaml:"template"           json:"template,omitempty"`
	TranslationDomain string `yaml:"translation_domain" json:"translation_domain,omitempty"`
}

// RequiresConfirmation defaults to true when ask_confirmation is omitted.
func (b BatchActionDefinition) RequiresConfirmation() bool {
	return b.AskConfirmation == nil || *b.AskConfirmation
}

// ColumnDefinition describes a column of the list or a row of the show page.
type ColumnDefinition struct {
	Field    string `yaml:"field"    json:"field"`
	Label    string `yaml:"label"    json:"label"`
	Type     string `yaml:"type"     json:"type"`
	Sortable bool   `yaml:"sortable" json:"sortable,omitempty"`
}

// FilterDefinition describes a datagrid filter.
type FilterDefinition struct {
	Field   string         `yaml:"field"   json:"field"`
	Label   string         `yaml:"label"   json:"label"`
	Type    string         `yaml:"type"    json:"type"`
	Options []StaticOption `yaml:"options" json:"options,omitempty"`
}

// StaticOption is a label/value pair for choices and filters.
type StaticOption struct {
	Label string `yaml:"label" json:"label"`
	Value string `yaml:"value" json:"value"`
}

// Field types understood by the form layer.
const (
	FieldText       = "text"
	FieldTextarea   = "textarea"
	FieldEmail      = "email"
	FieldInteger    = "integer"
	FieldNumber     = "number"
	FieldBoolean    = "boolean"
	FieldDate       = "date"
	FieldChoice     = "choice"
	FieldChoiceMask = "choice_field_mask"
)

// FieldDefinition describes a single form field.
type FieldDefinition struct {
	Field      string                `yaml:"field"      json:"field"`
	Label      string                `yaml:"label"      json:"label"`
	Type       string                `yaml:"type"       json:"type"`
	Required   bool                  `yaml:"required"   json:"required,omitempty"`
	ReadOnly   bool                  `yaml:"read_only"  json:"read_only,omitempty"`
	Validation *ValidationDefinition `yaml:"validation" json:"validation,omitempty"`
	Choices    []StaticOption        `yaml:"choices"    json:"choices,omitempty"`
	// Map is used by choice_field_mask fields: choice value → fields shown.
	Map      map[string][]string `yaml:"map"       json:"map,omitempty"`
	HelpText string              `yaml:"help_text" json:"help_text,omitempty"`
}

// ValidationDefinition describes validation rules for a field.
type ValidationDefinition struct {
	MinLength *int     `yaml:"min_length" json:"min_length,omitempty"`
	MaxLength *int     `yaml:"max_length" json:"max_length,omitempty"`
	Min       *float64 `yaml:"min"        json:"min,omitempty"`
	Max       *float64 `yaml:"max"        json:"max,omitempty"`
	Pattern   string   `yaml:"pattern"    json:"pattern,omitempty"`
	Message   string   `yaml:"message"    json:"message,omitempty"`
}
