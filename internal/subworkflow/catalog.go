package subworkflow

import (
	"context"
	"fmt"

	"sfcfetch/internal/services"
	"sfcfetch/internal/store"
)

// TypeCirculars is the workflow type that acquires regulator circulars.
const TypeCirculars = "circulars"

// Circular step names.
const (
	StepSearchAPI           = "search_api"
	StepFetchContentAPI     = "fetch_content_api"
	StepDownloadMainPDF     = "download_main_pdf"
	StepDownloadHTMLContent = "download_html_content"
	StepConvertToMarkdown   = "convert_to_markdown"
	StepDownloadAppendices  = "download_appendices"
	StepSaveMetadata        = "save_metadata"
	StepUpdateIndex         = "update_index"
)

// Circulars returns the built-in circulars pipeline. HTML and markdown
// rendering are best effort; the PDF and metadata steps are required.
func Circulars() Definition {
	return Definition{
		Type:        TypeCirculars,
		Description: "Circulars: metadata, PDF, HTML, markdown and appendices per reference",
		Steps: []Step{
			{Name: StepSearchAPI},
			{Name: StepFetchContentAPI},
			{Name: StepDownloadMainPDF},
			{Name: StepDownloadHTMLContent, Condition: ConditionModernCircular, ContinueOnError: true},
			{Name: StepConvertToMarkdown, ContinueOnError: true},
			{Name: StepDownloadAppendices, Condition: ConditionHasAppendices},
			{Name: StepSaveMetadata, MaxRetries: Retries(1)},
			{Name: StepUpdateIndex, MaxRetries: Retries(1)},
		},
	}
}

// Builtin returns every workflow type shipped with the binary.
func Builtin() []Definition {
	return []Definition{Circulars()}
}

// Install validates defs and writes them to the workflow_types table,
// replacing any stored definition of the same type.
func Install(ctx context.Context, st *store.Store, defs ...Definition) error {
	for _, def := range defs {
		if err := def.Validate(); err != nil {
			return services.Wrap(services.ErrConfiguration, "subworkflow", "install", def.Type, err)
		}
		raw, err := Encode(def.Steps)
		if err != nil {
			return err
		}
		if err := st.UpsertWorkflowType(ctx, def.Type, def.Description, raw); err != nil {
			return err
		}
	}
	return nil
}

// Load reads the stored pipeline for workflowType. An unregistered type or an
// unreadable definition is a configuration error.
func Load(ctx context.Context, st *store.Store, workflowType string) (Definition, error) {
	wt, err := st.GetWorkflowType(ctx, workflowType)
	if err != nil {
		return Definition{}, err
	}
	if wt == nil {
		return Definition{}, services.Wrap(services.ErrConfiguration, "subworkflow", "load",
			fmt.Sprintf("workflow type %q is not registered", workflowType), nil)
	}
	steps, err := Decode(wt.DefaultSubworkflow)
	if err != nil {
		return Definition{}, services.Wrap(services.ErrConfiguration, "subworkflow", "load", workflowType, err)
	}
	def := Definition{Type: wt.Name, Description: wt.Description, Steps: steps}
	if err := def.Validate(); err != nil {
		return Definition{}, services.Wrap(services.ErrConfiguration, "subworkflow", "load", workflowType, err)
	}
	return def, nil
}
