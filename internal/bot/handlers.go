package bot

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/tonimelisma/remarkable-relay/internal/userstore"
)

const pdfMimeType = "application/pdf"

func (d *Dispatcher) handleStart(ctx context.Context, req *request) error {
	d.reply(ctx, req.ChatID, replyWelcome+"\n\n"+helpText)
	return nil
}

func (d *Dispatcher) handleHelp(ctx context.Context, req *request) error {
	d.reply(ctx, req.ChatID, helpText)
	return nil
}

// handleRegister pairs a device with the one-time code and stores the token
// with the sender's current handle.
func (d *Dispatcher) handleRegister(ctx context.Context, req *request, args []string) error {
	if len(args) != 1 {
		return &usageError{usage: usageRegister}
	}

	d.reply(ctx, req.ChatID, replyWorking)

	token, err := d.cloud.Pair(ctx, args[0])
	if err != nil {
		return fmt.Errorf("bot: pairing: %w", err)
	}

	patch := userstore.Patch{}.WithToken(token).WithHandle(req.handle)
	if _, err := d.store.Merge(ctx, req.key, patch); err != nil {
		return fmt.Errorf("bot: storing token: %w", err)
	}

	d.logger.Info("user registered",
		slog.String("session_key", req.key),
		slog.String("handle", req.handle),
	)

	d.reply(ctx, req.ChatID, replyDone)

	return nil
}

// handleSearch lists the sender's documents, filtered by an optional term.
// Several words are treated as one term.
func (d *Dispatcher) handleSearch(ctx context.Context, req *request, args []string) error {
	docs, err := d.documents(ctx, req.key)
	if err != nil {
		return err
	}

	items, err := docs.List(ctx)
	if err != nil {
		return fmt.Errorf("bot: listing documents: %w", err)
	}

	matched := filterItems(items, joinArgs(args))
	if len(matched) == 0 {
		d.reply(ctx, req.ChatID, replyFoundNothing)
		return nil
	}

	d.replyHTML(ctx, req.ChatID, renderItems(matched))

	return nil
}

func (d *Dispatcher) handleShare(ctx context.Context, req *request, args []string) error {
	if len(args) != 2 {
		return &usageError{usage: usageShare}
	}

	d.reply(ctx, req.ChatID, replyWorking)

	res, err := d.transfers.Share(ctx, req.key, args[0], args[1])
	if err != nil {
		return err
	}

	d.metrics.ObserveTransfer("share")
	d.reply(ctx, req.ChatID, "The file has been sent to @"+res.RecipientHandle)

	return nil
}

func (d *Dispatcher) handleAccept(ctx context.Context, req *request) error {
	d.reply(ctx, req.ChatID, replyWorking)

	res, err := d.transfers.Accept(ctx, req.key)
	if err != nil {
		return err
	}

	if !res.Pending {
		d.reply(ctx, req.ChatID, replyNoPending)
		return nil
	}

	d.metrics.ObserveTransfer("accept")
	d.metrics.ObserveUpload(res.Size)
	d.reply(ctx, req.ChatID, "File uploaded to your reMarkable with the ID "+res.DocumentID)

	return nil
}

func (d *Dispatcher) handleRefuse(ctx context.Context, req *request) error {
	had, err := d.transfers.Refuse(ctx, req.key)
	if err != nil {
		return err
	}

	if had {
		d.metrics.ObserveTransfer("refuse")
	}

	d.reply(ctx, req.ChatID, replyRefused)

	return nil
}

// handleUpload relays a PDF attachment to the sender's cloud. The whole file
// is buffered in memory, so oversized attachments are refused up front.
func (d *Dispatcher) handleUpload(ctx context.Context, req *request) error {
	att := req.Attachment

	if !strings.EqualFold(att.MimeType, pdfMimeType) {
		return fmt.Errorf("%w: %q", ErrUnsupportedAttachment, att.MimeType)
	}

	if d.maxAttachment > 0 && att.Size > d.maxAttachment {
		return fmt.Errorf("%w: %d bytes", ErrAttachmentTooLarge, att.Size)
	}

	docs, err := d.documents(ctx, req.key)
	if err != nil {
		return err
	}

	data, err := d.transport.FetchFile(ctx, att.FileRef, d.maxAttachment)
	if err != nil {
		return fmt.Errorf("bot: fetching attachment: %w", err)
	}

	id, err := docs.Upload(ctx, uploadName(att.FileName), data)
	if err != nil {
		return fmt.Errorf("bot: uploading attachment: %w", err)
	}

	d.metrics.ObserveUpload(len(data))
	d.logger.Info("document uploaded",
		slog.String("session_key", req.key),
		slog.String("document_id", id),
		slog.Int("bytes", len(data)),
	)

	d.reply(ctx, req.ChatID, fmt.Sprintf("Document uploaded! ID: %s (%s)", id, humanize.Bytes(uint64(len(data)))))

	return nil
}

// uploadName derives the cloud document name from the attachment's file
// name, without directories or a .pdf extension.
func uploadName(fileName string) string {
	name := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if ext := path.Ext(name); strings.EqualFold(ext, ".pdf") {
		name = strings.TrimSuffix(name, ext)
	}

	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == "/" {
		return defaultUploadName
	}

	return name
}
