package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"civicfix-go/internal/apperr"
	"civicfix-go/internal/config"
	"civicfix-go/internal/model"
	"civicfix-go/pkg/llm"
	"civicfix-go/pkg/log"
	"civicfix-go/pkg/storage"

	"github.com/google/uuid"
)

// OrchestratorService 是请求编排器：按意图路由、管理会话窗口、
// 串联检索-打分-工单各环节，并把存储故障降级为可用的记忆/规则推荐。
type OrchestratorService interface {
	Assist(ctx context.Context, req *model.AssistRequest) (*model.AssistResponse, error)
	Feedback(ctx context.Context, req *model.FeedbackRequest) error
	// Forget 永久删除用户全部长期记忆（被遗忘权）。
	Forget(ctx context.Context, userID string) error
	ListTickets(ctx context.Context, userID string, limit int) ([]model.Ticket, error)
}

type orchestratorService struct {
	retrievalService RetrievalService
	recommendService RecommendService
	memoryService    MemoryService
	ticketService    TicketService
	llmClient        llm.Client
	cfg              *config.Config
	presignMedia     func(ctx context.Context, bucket, object string, expiry time.Duration) (string, error)
}

// NewOrchestratorService 创建一个新的 OrchestratorService 实例。
func NewOrchestratorService(
	retrievalService RetrievalService,
	recommendService RecommendService,
	memoryService MemoryService,
	ticketService TicketService,
	llmClient llm.Client,
	cfg *config.Config,
) OrchestratorService {
	return &orchestratorService{
		retrievalService: retrievalService,
		recommendService: recommendService,
		memoryService:    memoryService,
		ticketService:    ticketService,
		llmClient:        llmClient,
		cfg:              cfg,
		presignMedia:     storage.GetPresignedURL,
	}
}

func (s *orchestratorService) Assist(ctx context.Context, req *model.AssistRequest) (*model.AssistResponse, error) {
	if req.UserID == "" {
		return nil, apperr.New(apperr.KindValidationError, "user_id 不能为空")
	}

	sess, err := s.loadOrCreateSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	resp := &model.AssistResponse{SessionID: sess.SessionID}

	// 机会式衰减清理：失败不阻塞本次请求。
	if _, err := s.memoryService.DecayCleanup(ctx, req.UserID); err != nil {
		log.Warnf("[Orchestrator] 衰减清理失败（忽略）: %v", err)
	}

	complaintText := composeComplaintText(req)
	if max := s.cfg.Server.MaxTextChars; max > 0 && len([]rune(complaintText)) > max {
		resp.NeedMoreInfo = true
		resp.Questions = []string{fmt.Sprintf("Your description is too long (limit %d characters). Could you shorten it to the key facts?", max)}
		return resp, nil
	}
	// 脱敏在进入检索、会话与日志之前完成，原文不再向下游流动。
	complaintText = redactPII(complaintText)
	if complaintText != "" {
		sess.AppendMessage(model.SessionMessage{Role: "user", Text: complaintText, Time: time.Now()}, s.cfg.Session.MaxMessages)
	}
	s.attachMedia(ctx, req, sess)

	switch req.Intent {
	case model.IntentNew, model.IntentProcedure:
		err = s.handleComplaint(ctx, req, sess, complaintText, resp)
	case model.IntentTrack:
		err = s.handleTrack(ctx, req, resp)
	case model.IntentEscalate:
		err = s.handleEscalate(ctx, req, resp)
	default:
		return nil, apperr.New(apperr.KindValidationError, "未知的意图: "+req.Intent)
	}
	if err != nil {
		// 领域错误放进响应体，基础设施错误向上抛。
		kind := apperr.KindOf(err)
		if kind == apperr.KindNotFound || kind == apperr.KindInvalidTransition {
			resp.Error = &model.APIError{Kind: string(kind), Message: err.Error()}
			return resp, nil
		}
		return nil, err
	}

	resp.MediaReviewURLs = s.mediaReviewURLs(ctx, sess)
	if err := s.memoryService.SaveSession(ctx, sess); err != nil {
		log.Warnf("[Orchestrator] 会话保存失败（忽略）: %v", err)
	}
	return resp, nil
}

// mediaReviewExpiry 是媒体查看链接的有效期。
const mediaReviewExpiry = 15 * time.Minute

// mediaReviewURLs 为会话中的媒体留档签发限时查看链接，
// 供受理渠道的工作人员核验现场情况；签发失败不阻塞主流程。
func (s *orchestratorService) mediaReviewURLs(ctx context.Context, sess *model.SessionState) []string {
	var urls []string
	for _, object := range []string{sess.LastPhotoURI, sess.LastScreenshotURI} {
		if object == "" {
			continue
		}
		url, err := s.presignMedia(ctx, s.cfg.MinIO.BucketName, object, mediaReviewExpiry)
		if err != nil {
			log.Warnf("[Orchestrator] 媒体签名链接生成失败（忽略）: %v", err)
			continue
		}
		urls = append(urls, url)
	}
	return urls
}

// loadOrCreateSession 懒加载会话：不存在或已过期时创建新会话。
func (s *orchestratorService) loadOrCreateSession(ctx context.Context, sessionID string) (*model.SessionState, error) {
	if sessionID != "" {
		sess, err := s.memoryService.GetSession(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if sess != nil {
			return sess, nil
		}
	}
	return &model.SessionState{SessionID: uuid.NewString()}, nil
}

// composeComplaintText 合并文本、语音转写与截图 OCR 文本。
// 协作方产物缺失时用现有文本继续，不整体失败。
func composeComplaintText(req *model.AssistRequest) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{req.Text, req.TranscriptText, req.ScreenshotText} {
		if t := strings.TrimSpace(p); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n")
}

// attachMedia 把预解码的媒体字节落到对象存储，会话只记录对象 URI。
// 媒体留档失败不影响主流程。
func (s *orchestratorService) attachMedia(ctx context.Context, req *model.AssistRequest, sess *model.SessionState) {
	bucket := s.cfg.MinIO.BucketName
	if req.IssuePhoto != "" {
		if data, err := base64.StdEncoding.DecodeString(req.IssuePhoto); err == nil {
			if uri, err := storage.PutMedia(ctx, bucket, "photo", data, "image/jpeg"); err == nil {
				sess.LastPhotoURI = uri
			}
		} else {
			log.Warnf("[Orchestrator] issue_photo 解码失败（忽略）: %v", err)
		}
	}
	if req.Screenshot != "" {
		if data, err := base64.StdEncoding.DecodeString(req.Screenshot); err == nil {
			if uri, err := storage.PutMedia(ctx, bucket, "screenshot", data, "image/png"); err == nil {
				sess.LastScreenshotURI = uri
			}
		} else {
			log.Warnf("[Orchestrator] screenshot 解码失败（忽略）: %v", err)
		}
	}
	if req.AudioObjectID != "" {
		sess.LastAudioURI = req.AudioObjectID
	}
}

// handleComplaint 处理 new / procedure 意图：检索证据、打分推荐、
// 槽位追问、模板生成，new 意图在信息齐备时顺带建单。
func (s *orchestratorService) handleComplaint(ctx context.Context, req *model.AssistRequest, sess *model.SessionState, complaintText string, resp *model.AssistResponse) error {
	if complaintText == "" && req.IssuePhoto == "" {
		resp.NeedMoreInfo = true
		resp.MissingFields = []string{"text"}
		resp.Questions = []string{questionFor("text")}
		return nil
	}

	memories, err := s.memoryService.QueryRecent(ctx, req.UserID, "", 20)
	if err != nil {
		log.Warnf("[Orchestrator] 记忆读取失败, 按无记忆继续: %v", err)
		memories = nil
	}
	reqCtx := s.buildRequestContext(req, complaintText, memories)

	filter := model.EvidenceFilter{City: req.City, Language: detectLanguage(complaintText)}
	evidence, err := s.retrievalService.Retrieve(ctx, complaintText, req.IssuePhoto, filter, s.cfg.Retrieval.TopK)
	if err != nil {
		if !apperr.Is(err, apperr.KindStoreUnavailable) {
			return err
		}
		// 检索不可用：降级为记忆/规则推荐，显式打 degraded 标记。
		log.Warnf("[Orchestrator] 证据检索不可用, 进入降级推荐: %v", err)
		evidence = nil
		resp.Degraded = true
	}

	candidates := s.recommendService.Score(evidence, memories, reqCtx)
	top := candidates[0]

	if req.Intent == model.IntentNew {
		missing := s.missingSlots(req, sess, top, complaintText)
		if len(missing) > 0 {
			resp.NeedMoreInfo = true
			resp.MissingFields = missing
			for _, f := range missing {
				resp.Questions = append(resp.Questions, questionFor(f))
			}
			return nil
		}
	}

	slaDays := s.resolveSLADays(top)
	resp.RecommendedAction = &model.RecommendedAction{
		Department:    top.Department,
		Category:      top.Category,
		BestChannel:   top.BestChannel,
		BackupChannel: top.BackupChannel,
	}
	resp.ComplaintTextReadyToPaste = s.buildComplaintText(req, top, complaintText)
	resp.ChecklistRequiredFields = requiredFieldsOf(top)
	resp.SLADays = slaDays
	resp.EscalationSteps = s.ticketService.EscalationPlan(top.Department, slaDays)
	resp.TipsFromSimilarCases = tipsFrom(evidence)
	resp.Evidence = evidenceRefs(top.Evidence)
	resp.Reasoning = top.Reasoning
	resp.LowConfidence = top.LowConfidence
	resp.Confidence = ConfidenceLabel(topEvidenceScore(top), len(top.Evidence) > 0)
	resp.SafetyNote = safetyNoteFor(complaintText)

	if req.Intent == model.IntentNew {
		if err := s.openTicket(ctx, req, top, complaintText, resp); err != nil {
			return err
		}
	}

	// 用户本次明确用了推荐的首选渠道：强化偏好。
	if req.PreferredChannel != "" && req.PreferredChannel == top.BestChannel {
		if err := s.memoryService.ReinforcePreference(ctx, req.UserID, req.PreferredChannel); err != nil {
			log.Warnf("[Orchestrator] 偏好强化失败（忽略）: %v", err)
		}
	}

	s.maybePhrasingLLM(ctx, req, resp)
	sess.AppendMessage(model.SessionMessage{
		Role: "assistant",
		Text: fmt.Sprintf("Recommended %s via %s", top.Department, top.BestChannel),
		Time: time.Now(),
	}, s.cfg.Session.MaxMessages)
	return nil
}

// buildRequestContext 汇总打分器所需的上下文信号：推断紧急度、
// 从偏好记忆补全渠道偏好、从 portal_down 反馈判断门户可用性。
func (s *orchestratorService) buildRequestContext(req *model.AssistRequest, complaintText string, memories []model.MemoryRecord) model.RequestContext {
	reqCtx := model.RequestContext{
		City:             req.City,
		WardID:           req.WardID,
		Urgency:          inferUrgency(complaintText),
		PreferredChannel: req.PreferredChannel,
		PortalOK:         true,
	}
	for _, rec := range memories {
		switch rec.Payload.Type {
		case model.MemoryTypePreference:
			if reqCtx.PreferredChannel == "" {
				reqCtx.PreferredChannel = rec.Payload.PrefChannel
			}
		case model.MemoryTypeHistory:
			if rec.Payload.Outcome == model.OutcomePortalDown {
				reqCtx.PortalOK = false
			}
		}
	}
	return reqCtx
}

// missingSlots 对照知识库声明的必填槽位检查请求中已提供的信息。
func (s *orchestratorService) missingSlots(req *model.AssistRequest, sess *model.SessionState, top model.RecommendationCandidate, complaintText string) []string {
	var missing []string
	for _, field := range requiredFieldsOf(top) {
		provided := false
		switch field {
		case "city":
			provided = req.City != ""
		case "ward_id", "ward":
			provided = req.WardID != ""
		case "landmark":
			provided = req.Landmark != ""
		case "photo":
			provided = req.IssuePhoto != "" || sess.LastPhotoURI != ""
		case "text", "description":
			provided = complaintText != ""
		default:
			// 未知槽位无法从请求推断，按缺失处理。
		}
		if !provided {
			missing = append(missing, field)
		}
	}
	return missing
}

// requiredFieldsOf 合并候选证据声明的必填槽位并去重，保持出现顺序。
func requiredFieldsOf(c model.RecommendationCandidate) []string {
	seen := make(map[string]struct{})
	var fields []string
	for _, snip := range c.Evidence {
		for _, f := range snip.Document.RequiredFields {
			if _, ok := seen[f]; ok {
				continue
			}
			seen[f] = struct{}{}
			fields = append(fields, f)
		}
	}
	return fields
}

// buildComplaintText 用知识库模板（缺省用兜底模板）生成可直接粘贴的投诉正文。
func (s *orchestratorService) buildComplaintText(req *model.AssistRequest, top model.RecommendationCandidate, redacted string) string {
	template := defaultComplaintTemplate
	for _, snip := range top.Evidence {
		if snip.Document.Template != "" {
			template = snip.Document.Template
			break
		}
	}
	return fillTemplate(template, map[string]string{
		"city":       req.City,
		"ward_id":    req.WardID,
		"landmark":   req.Landmark,
		"category":   top.Category,
		"department": top.Department,
		"text":       redacted,
	})
}

// resolveSLADays 优先使用证据声明的 SLA，缺省时查部门/类别承诺表。
func (s *orchestratorService) resolveSLADays(top model.RecommendationCandidate) int {
	for _, snip := range top.Evidence {
		if snip.Document.SLADays > 0 {
			return snip.Document.SLADays
		}
	}
	return s.ticketService.SLADays(top.Department, top.Category)
}

// tipsFrom 从历史案例类证据中提炼可操作的提示。
func tipsFrom(evidence []model.EvidenceSnippet) []string {
	var tips []string
	for _, snip := range evidence {
		if len(tips) >= 3 {
			break
		}
		if snip.CollectionOrigin == model.CollectionCaseImage || strings.Contains(snip.Document.Source, "case") {
			tips = append(tips, truncateText(strings.TrimSpace(snip.Document.Text), 160))
		}
	}
	return tips
}

// evidenceRefs 把证据片段转为对外的解释链引用。
func evidenceRefs(evidence []model.EvidenceSnippet) []model.EvidenceRef {
	refs := make([]model.EvidenceRef, 0, len(evidence))
	for _, snip := range evidence {
		refs = append(refs, model.EvidenceRef{
			Collection:  snip.CollectionOrigin,
			Score:       snip.Score,
			Source:      snip.Document.Source,
			FreshnessTS: snip.Document.FreshnessTS,
			Snippet:     truncateText(snip.Document.Text, 200),
		})
	}
	return refs
}

func topEvidenceScore(c model.RecommendationCandidate) float64 {
	if len(c.Evidence) == 0 {
		return 0
	}
	return c.Evidence[0].Score
}

// openTicket 在信息齐备时为 new 意图建单，并把提交记录写入长期记忆。
func (s *orchestratorService) openTicket(ctx context.Context, req *model.AssistRequest, top model.RecommendationCandidate, redacted string, resp *model.AssistResponse) error {
	meta, _ := json.Marshal(map[string]string{"landmark": req.Landmark, "tone": req.Tone})
	ticket, err := s.ticketService.Create(ctx, CreateTicketInput{
		UserID:        req.UserID,
		City:          req.City,
		WardID:        req.WardID,
		Category:      top.Category,
		Department:    top.Department,
		Channel:       top.BestChannel,
		ComplaintText: redacted,
		AutoSubmit:    req.AutoSubmit,
		MetaJSON:      string(meta),
	})
	if err != nil {
		return err
	}
	resp.TicketID = ticket.TicketID
	resp.SubmissionStatus = ticket.Status

	payload := model.MemoryPayload{
		Type:       model.MemoryTypeHistory,
		Outcome:    model.OutcomeSubmitted,
		TicketID:   ticket.TicketID,
		Department: top.Department,
		Category:   top.Category,
	}
	text := fmt.Sprintf("Filed complaint %s with %s (%s)", ticket.TicketID, top.Department, top.Category)
	if err := s.memoryService.Upsert(ctx, req.UserID, text, payload, s.cfg.Memory.DefaultTTLDays, 1); err != nil {
		log.Warnf("[Orchestrator] 提交记录写入记忆失败（忽略）: %v", err)
	}
	return nil
}

// maybePhrasingLLM 按请求覆写或配置默认决定是否用语言模型润色响应，
// 失败时静默降级为模板文案。
func (s *orchestratorService) maybePhrasingLLM(ctx context.Context, req *model.AssistRequest, resp *model.AssistResponse) {
	enabled := s.cfg.LLM.Enabled
	if req.UseLLM != nil {
		enabled = *req.UseLLM
	}
	if !enabled || resp.RecommendedAction == nil {
		return
	}

	tone := req.Tone
	if tone == "" {
		tone = "polite and factual"
	}
	prompt := fmt.Sprintf(
		"Rewrite the following civic complaint guidance as short markdown for a citizen. Tone: %s.\n"+
			"Department: %s\nCategory: %s\nBest channel: %s\nBackup channel: %s\nSLA days: %d\nComplaint text: %s",
		tone,
		resp.RecommendedAction.Department, resp.RecommendedAction.Category,
		resp.RecommendedAction.BestChannel, resp.RecommendedAction.BackupChannel,
		resp.SLADays, resp.ComplaintTextReadyToPaste,
	)
	out, err := s.llmClient.Complete(ctx, []llm.Message{
		{Role: "system", Content: "You help citizens file municipal complaints. Never invent facts beyond the given guidance."},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		log.Warnf("[Orchestrator] 语言润色失败, 使用模板文案: %v", err)
		return
	}
	resp.LLMMarkdown = out
}

// handleTrack 处理 track 意图：返回工单当前状态与等待天数，
// 超过 SLA 时提示可升级。
func (s *orchestratorService) handleTrack(ctx context.Context, req *model.AssistRequest, resp *model.AssistResponse) error {
	if req.TicketID == "" {
		return apperr.New(apperr.KindValidationError, "track 意图缺少 ticket_id")
	}
	ticket, days, err := s.ticketService.Track(ctx, req.TicketID)
	if err != nil {
		return err
	}
	resp.Ticket = ticket
	resp.CurrentStatus = ticket.Status
	resp.DaysWaited = days

	slaDays := s.ticketService.SLADays(ticket.Department, ticket.Category)
	resp.SLADays = slaDays
	if days >= slaDays && ticket.Status != model.TicketStatusResolved {
		resp.TipsFromSimilarCases = []string{
			fmt.Sprintf("The %d-day deadline has passed (%d days waited). You can escalate this ticket now.", slaDays, days),
		}
	}
	return nil
}

// handleEscalate 处理 escalate 意图：推进状态机并返回升级计划。
func (s *orchestratorService) handleEscalate(ctx context.Context, req *model.AssistRequest, resp *model.AssistResponse) error {
	if req.TicketID == "" {
		return apperr.New(apperr.KindValidationError, "escalate 意图缺少 ticket_id")
	}
	ticket, plan, err := s.ticketService.Escalate(ctx, req.TicketID, req.DaysWaited)
	if err != nil {
		return err
	}
	resp.Ticket = ticket
	resp.CurrentStatus = ticket.Status
	resp.DaysWaited = req.DaysWaited
	resp.EscalationSteps = plan
	resp.SLADays = s.ticketService.SLADays(ticket.Department, ticket.Category)
	return nil
}

// Feedback 记录用户反馈为长期记忆；resolved 反馈同时关闭对应工单。
func (s *orchestratorService) Feedback(ctx context.Context, req *model.FeedbackRequest) error {
	if req.UserID == "" {
		return apperr.New(apperr.KindValidationError, "user_id 不能为空")
	}
	switch req.Outcome {
	case model.OutcomeResolved, model.OutcomeNotResolved, model.OutcomeWrongDepartment, model.OutcomePortalDown:
	default:
		return apperr.New(apperr.KindValidationError, "未知的反馈结果: "+req.Outcome)
	}

	payload := model.MemoryPayload{
		Type:       model.MemoryTypeHistory,
		Outcome:    req.Outcome,
		TicketID:   req.TicketID,
		Notes:      req.Notes,
		Department: req.Department,
		Category:   req.Category,
	}
	version, err := s.nextVersion(ctx, req.UserID, payload)
	if err != nil {
		return err
	}
	text := fmt.Sprintf("Feedback %s for ticket %s: %s", req.Outcome, req.TicketID, truncateText(req.Notes, 120))
	if err := s.memoryService.Upsert(ctx, req.UserID, text, payload, s.cfg.Memory.FeedbackTTLDays, version); err != nil {
		return err
	}

	if req.Outcome == model.OutcomeResolved && req.TicketID != "" {
		if err := s.ticketService.Resolve(ctx, req.TicketID); err != nil {
			return err
		}
	}
	log.Infof("[Orchestrator] 反馈已记录, user: %s, outcome: %s, ticket: %s", req.UserID, req.Outcome, req.TicketID)
	return nil
}

// nextVersion 求同键记忆的下一个版本号，保证 upsert 取代而非并存。
func (s *orchestratorService) nextVersion(ctx context.Context, userID string, payload model.MemoryPayload) (int, error) {
	records, err := s.memoryService.QueryRecent(ctx, userID, payload.Type, 0)
	if err != nil {
		return 0, err
	}
	version := 1
	for _, rec := range records {
		if rec.Payload.Key() == payload.Key() && rec.Version >= version {
			version = rec.Version + 1
		}
	}
	return version, nil
}

func (s *orchestratorService) Forget(ctx context.Context, userID string) error {
	if userID == "" {
		return apperr.New(apperr.KindValidationError, "user_id 不能为空")
	}
	return s.memoryService.DeleteUser(ctx, userID)
}

func (s *orchestratorService) ListTickets(ctx context.Context, userID string, limit int) ([]model.Ticket, error) {
	if userID == "" {
		return nil, apperr.New(apperr.KindValidationError, "user_id 不能为空")
	}
	return s.ticketService.ListByUser(ctx, userID, limit)
}
