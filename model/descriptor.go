package model

// FormDescriptor is the resolved form sent to the frontend.
type FormDescriptor struct {
	Name      string            `json:"name"`
	UniqID    string            `json:"uniqid,omitempty"`
	Action    string            `json:"action,omitempty"`
	Submitted bool              `json:"submitted"`
	Valid     bool              `json:"valid"`
	Fields    []FieldDescriptor `json:"fields"`
	Errors    []FieldError      `json:"errors,omitempty"`
}

// FieldDescriptor is a resolved form field.
type FieldDescriptor struct {
	Field      string                `json:"field"`
	FullName   string                `json:"full_name"`
	Label      string                `json:"label"`
	Type       string                `json:"type"`
	ReadOnly   bool                  `json:"read_only"`
	Required   bool                  `json:"required"`
	Hidden     bool                  `json:"hidden,omitempty"`
	Validation *ValidationDefinition `json:"validation,omitempty"`
	Options    []OptionDescriptor    `json:"options,omitempty"`
	Mask       map[string][]string   `json:"mask,omitempty"`
	AllFields  []string              `json:"all_fields,omitempty"`
	HelpText   string                `json:"help_text,omitempty"`
	Value      any                   `json:"value,omitempty"`
}

// OptionDescriptor is a resolved option for choices and filters.
type OptionDescriptor struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// ColumnDescriptor describes a list column or a show row.
type ColumnDescriptor struct {
	Field    string `json:"field"`
	Label    string `json:"label"`
	Type     string `json:"type"`
	Sortable bool   `json:"sortable"`
	Value    any    `json:"value,omitempty"`
}

// FilterDescriptor describes a resolved filter control with its bound value.
type FilterDescriptor struct {
	Field   string             `json:"field"`
	Label   string             `json:"label"`
	Type    string             `json:"type"`
	Options []OptionDescriptor `json:"options,omitempty"`
	Value   map[string]string  `json:"value,omitempty"`
}

// PagerDescriptor describes the current page of a datagrid.
type PagerDescriptor struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalCount int `json:"total_count"`
	LastPage   int `json:"last_page"`
}

// BatchActionDescriptor is a batch action offered on the list.
type BatchActionDescriptor struct {
	Name                 string `json:"name"`
	Label                string `json:"label"`
	RequiresConfirmation bool   `json:"requires_confirmation"`
}

// DatagridDescriptor is the resolved list page content.
type DatagridDescriptor struct {
	ListMode     string                  `json:"list_mode"`
	Columns      []ColumnDescriptor      `json:"columns"`
	Filters      []FilterDescriptor      `json:"filters,omitempty"`
	Rows         []map[string]any        `json:"rows"`
	Pager        PagerDescriptor         `json:"pager"`
	BatchActions []BatchActionDescriptor `json:"batch_actions,omitempty"`
}

// FlashMessage is a one-shot message shown on the next page.
type FlashMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Domain  string `json:"domain,omitempty"`
	// Params are substituted into the translated message (e.g. "%name%").
	Params map[string]string `json:"params,omitempty"`
}
