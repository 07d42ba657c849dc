package contracts

// Exchange names.
const (
	ExchangeName      = "transcoder"
	RetryExchangeName = ExchangeName + ".retry"
)

// Routing keys, one per stage transition.
const (
	RoutingKeyVideoIngested          = "video.ingested"
	RoutingKeyVideoDownloaded        = "video.downloaded"
	RoutingKeyVideoEncodingRequested = "video.encoding.requested"
	RoutingKeyVideoEncoded           = "video.encoded"
	RoutingKeyVideoArtifactsUploaded = "video.artifact.uploaded"
)

// Stage names.
const (
	StageDownloader   = "downloader"
	StageOrchestrator = "orchestrator"
	StageEncoder      = "encoder"
	StageUploader     = "uploader"
	StageStitcher     = "stitcher"
)

// Binding ties a stage to the queue it consumes and the routing key that
// feeds it.
type Binding struct {
	Stage   string
	Queue   string
	Pattern string
}

// RetryQueue returns the companion retry queue name.
func (b Binding) RetryQueue() string {
	return RetryQueueName(b.Queue)
}

// RetryQueueName returns the retry queue paired with queue.
func RetryQueueName(queue string) string {
	return queue + ".retry"
}

// Bindings lists every stage queue in pipeline order.
func Bindings() []Binding {
	return []Binding{
		{Stage: StageDownloader, Queue: "ingested-videos", Pattern: RoutingKeyVideoIngested},
		{Stage: StageOrchestrator, Queue: "downloaded-videos", Pattern: RoutingKeyVideoDownloaded},
		{Stage: StageEncoder, Queue: "encoding-requests", Pattern: RoutingKeyVideoEncodingRequested},
		{Stage: StageUploader, Queue: "encoded-videos", Pattern: RoutingKeyVideoEncoded},
		{Stage: StageStitcher, Queue: "uploaded-artifacts", Pattern: RoutingKeyVideoArtifactsUploaded},
	}
}

// BindingForStage looks up a stage binding by name.
func BindingForStage(stage string) (Binding, bool) {
	for _, b := range Bindings() {
		if b.Stage == stage {
			return b, true
		}
	}
	return Binding{}, false
}
