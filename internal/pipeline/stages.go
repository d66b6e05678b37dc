package pipeline

import (
	"fmt"
	"time"

	"github.com/helixir/paper-review-service/internal/domain"
)

// Stage names in execution order.
const (
	StageExtractText       = "extract_text"
	StageExtractFields     = "extract_fields"
	StageExtractKeywords   = "extract_keywords"
	StageRetrieveRelated   = "retrieve_related"
	StageScoreSimilarity   = "score_similarity"
	StageAnalyzeInnovation = "analyze_innovation"
	StageEvaluate          = "evaluate"
	StageGenerateReport    = "generate_report"
)

// StageOrder lists every stage in the order it runs.
var StageOrder = []string{
	StageExtractText,
	StageExtractFields,
	StageExtractKeywords,
	StageRetrieveRelated,
	StageScoreSimilarity,
	StageAnalyzeInnovation,
	StageEvaluate,
	StageGenerateReport,
}

// stagePolicies decides what a timeout or failure of each stage means for
// the run.
var stagePolicies = map[string]domain.StagePolicy{
	StageExtractText:       domain.StagePolicyFatal,
	StageExtractFields:     domain.StagePolicyDegrade,
	StageExtractKeywords:   domain.StagePolicyDegrade,
	StageRetrieveRelated:   domain.StagePolicyDegrade,
	StageScoreSimilarity:   domain.StagePolicyDegrade,
	StageAnalyzeInnovation: domain.StagePolicyDegrade,
	StageEvaluate:          domain.StagePolicyDegrade,
	StageGenerateReport:    domain.StagePolicyFatal,
}

// PolicyFor returns the failure policy of a stage. Unknown stages are fatal.
func PolicyFor(stage string) domain.StagePolicy {
	if p, ok := stagePolicies[stage]; ok {
		return p
	}
	return domain.StagePolicyFatal
}

// StageConfig holds the deadline and heartbeat interval of one stage.
type StageConfig struct {
	Deadline  time.Duration
	Heartbeat time.Duration
}

// Config configures the Orchestrator.
type Config struct {
	// ReviewTimeout is the wall-clock deadline of a whole run.
	ReviewTimeout time.Duration

	// Stages maps stage names to their timing.
	Stages map[string]StageConfig
}

// DefaultConfig returns the stage timing used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		ReviewTimeout: 1200 * time.Second,
		Stages: map[string]StageConfig{
			StageExtractText:       {Deadline: 180 * time.Second, Heartbeat: 15 * time.Second},
			StageExtractFields:     {Deadline: 120 * time.Second, Heartbeat: 15 * time.Second},
			StageExtractKeywords:   {Deadline: 120 * time.Second, Heartbeat: 15 * time.Second},
			StageRetrieveRelated:   {Deadline: 180 * time.Second, Heartbeat: 15 * time.Second},
			StageScoreSimilarity:   {Deadline: 120 * time.Second, Heartbeat: 15 * time.Second},
			StageAnalyzeInnovation: {Deadline: 120 * time.Second, Heartbeat: 15 * time.Second},
			StageEvaluate:          {Deadline: 480 * time.Second, Heartbeat: 15 * time.Second},
			StageGenerateReport:    {Deadline: 240 * time.Second, Heartbeat: 25 * time.Second},
		},
	}
}

// Validate checks that every stage has a usable deadline and heartbeat.
func (c Config) Validate() error {
	if c.ReviewTimeout <= 0 {
		return domain.NewValidationError("review_timeout", "must be positive")
	}
	for _, name := range StageOrder {
		sc, ok := c.Stages[name]
		if !ok {
			return domain.NewValidationError("stages."+name, "missing")
		}
		if sc.Deadline <= 0 {
			return domain.NewValidationError("stages."+name+".deadline", "must be positive")
		}
		if sc.Heartbeat <= 0 || sc.Heartbeat >= sc.Deadline {
			return domain.NewValidationError("stages."+name+".heartbeat",
				fmt.Sprintf("must be positive and below the deadline (%s)", sc.Deadline))
		}
	}
	return nil
}

// stepNarration is the text of the step event announcing each stage.
var stepNarration = map[string][2]string{
	StageExtractText:       {"Extracting text from the PDF", "正在解析PDF文本"},
	StageExtractFields:     {"Extracting title, abstract and sections", "正在提取论文标题、摘要和章节"},
	StageExtractKeywords:   {"Extracting search keywords", "正在提取检索关键词"},
	StageRetrieveRelated:   {"Searching for related papers", "正在检索相关论文"},
	StageScoreSimilarity:   {"Scoring similarity to related papers", "正在计算与相关论文的相似度"},
	StageAnalyzeInnovation: {"Analyzing innovations", "正在分析创新点"},
	StageEvaluate:          {"Evaluating the paper", "正在评估论文"},
	StageGenerateReport:    {"Writing the review report", "正在生成评审报告"},
}
