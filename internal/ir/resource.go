package ir

// Resource is a single declared resource.
type Resource struct {
	Type       string            `pkl:"type"` // e.g., "aws:Batch.JobQueue"
	Name       string            `pkl:"name"`
	Provider   string            `pkl:"provider"`
	Lifecycle  *Lifecycle        `pkl:"lifecycle"`
	DependsOn  []string          `pkl:"dependsOn"`
	Count      int               `pkl:"count"`
	ForEach    map[string]string `pkl:"forEach"`
	Timeout    string            `pkl:"timeout"`
	Properties map[string]any    `pkl:"properties"`
}

type Lifecycle struct {
	CreateBeforeDestroy bool     `pkl:"createBeforeDestroy"`
	PreventDestroy      bool     `pkl:"preventDestroy"`
	IgnoreChanges       []string `pkl:"ignoreChanges"`
}
