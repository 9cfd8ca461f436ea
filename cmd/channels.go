package cmd

import (
	"github.com/spf13/cobra"

	"github.com/zankora/agw/pkg/protocol"
)

func channelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "channels",
		Short: "List registered channels and their status",
		Run: func(cmd *cobra.Command, args []string) {
			oneShot(protocol.MethodChannelsList, nil)
		},
	}
}

func chatsCmd() *cobra.Command {
	var channelID string
	var messages string
	var limit int

	cmd := &cobra.Command{
		Use:   "chats",
		Short: "List chats, or messages of one chat with --messages",
		Run: func(cmd *cobra.Command, args []string) {
			if messages != "" {
				oneShot(protocol.MethodChatMessages, map[string]any{
					"chat_id": messages,
					"limit":   limit,
				})
				return
			}
			payload := map[string]any{}
			if channelID != "" {
				payload["channel_id"] = channelID
			}
			oneShot(protocol.MethodChatList, payload)
		},
	}
	cmd.Flags().StringVar(&channelID, "channel", "", "filter by channel id")
	cmd.Flags().StringVar(&messages, "messages", "", "show messages of this chat id instead")
	cmd.Flags().IntVar(&limit, "limit", 50, "message window size")
	return cmd
}
