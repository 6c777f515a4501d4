package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	limitFlag  int
	cursorFlag string
)

var postCmd = &cobra.Command{
	Use:   "post",
	Short: "Inspect and moderate published posts",
}

var postListCmd = &cobra.Command{
	Use:   "list",
	Short: "List posts newest-first",
	Long: `List posts newest-first, including soft-deleted ones.

Pagination is cursor-based: when a page fills, the command prints the
cursor to pass with --cursor for the next page.`,
	Run: runPostList,
}

var postDeleteCmd = &cobra.Command{
	Use:   "delete <post-id>",
	Short: "Soft-delete a post",
	Args:  cobra.ExactArgs(1),
	Run:   runPostDelete,
}

var postRestoreCmd = &cobra.Command{
	Use:   "restore <post-id>",
	Short: "Restore a soft-deleted post",
	Args:  cobra.ExactArgs(1),
	Run:   runPostRestore,
}

func init() {
	postListCmd.Flags().IntVarP(&limitFlag, "limit", "n", 25, "Maximum posts per page")
	postListCmd.Flags().StringVar(&cursorFlag, "cursor", "", "Resume listing after this post ID")
	postCmd.AddCommand(postListCmd)
	postCmd.AddCommand(postDeleteCmd)
	postCmd.AddCommand(postRestoreCmd)
}

func runPostList(cmd *cobra.Command, args []string) {
	st, _ := initStore()

	posts, next, err := st.ListPosts(context.Background(), limitFlag, cursorFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to list posts")
	}

	if len(posts) == 0 {
		fmt.Println("No posts found.")
		return
	}

	for _, post := range posts {
		marker := " "
		if post.Deleted {
			marker = "D"
		}
		fmt.Printf("%s %-51s %-12s %-20s %-6s %s\n",
			marker, post.ID, post.Author, formatMillis(post.CreatedAt),
			post.Background.Kind, truncate(post.Content, 60))
	}
	fmt.Printf("\n%d post(s)", len(posts))
	if next != "" {
		fmt.Printf("; next page: --cursor %s", next)
	}
	fmt.Println()
}

func runPostDelete(cmd *cobra.Command, args []string) {
	st, _ := initStore()
	ctx := context.Background()

	post, err := st.GetPost(ctx, args[0])
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read post")
	}
	if post == nil {
		log.Fatal().Str("post_id", args[0]).Msg("post not found")
	}
	if post.Deleted {
		fmt.Printf("Post %s is already deleted.\n", post.ID)
		return
	}

	if err := st.MarkPostDeleted(ctx, post.ID, time.Now()); err != nil {
		log.Fatal().Err(err).Str("post_id", post.ID).Msg("failed to delete post")
	}
	fmt.Printf("Post %s soft-deleted.\n", post.ID)
}

func runPostRestore(cmd *cobra.Command, args []string) {
	st, _ := initStore()
	ctx := context.Background()

	post, err := st.GetPost(ctx, args[0])
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read post")
	}
	if post == nil {
		log.Fatal().Str("post_id", args[0]).Msg("post not found")
	}
	if !post.Deleted {
		fmt.Printf("Post %s is not deleted.\n", post.ID)
		return
	}

	if err := st.RestorePost(ctx, post.ID); err != nil {
		log.Fatal().Err(err).Str("post_id", post.ID).Msg("failed to restore post")
	}
	fmt.Printf("Post %s restored.\n", post.ID)
}

// truncate shortens s to at most max runes, never splitting a multi-byte
// character.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
